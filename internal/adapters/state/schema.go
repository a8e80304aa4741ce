// Package state holds the persisted record layout shared by the durable
// state store backends.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
)

type throttleRecord struct {
	IsLimit   bool    `json:"isLimit"`
	Times     int     `json:"times"`
	EndDate   *string `json:"endDate"`
	LastDate  *string `json:"lastDate"`
	ResetDate *string `json:"resetDate"`
}

type sessionRecord struct {
	Token   string `json:"token"`
	Expires string `json:"Expires"`
}

// SessionRecords maps identity to its raw session record, as stored in a
// single sessions document.
type SessionRecords map[string]json.RawMessage

func EncodeThrottle(state domain.ThrottleState) ([]byte, error) {
	record := throttleRecord{
		IsLimit:   state.CooldownActive,
		Times:     state.RequestCount,
		EndDate:   formatTimePtr(state.CooldownEndsAt),
		LastDate:  formatTimePtr(state.LastRequestAt),
		ResetDate: formatTimePtr(state.WindowResetAt),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode throttle record: %w", err)
	}

	return data, nil
}

func DecodeThrottle(data []byte) (domain.ThrottleState, error) {
	if len(data) == 0 {
		return domain.ThrottleState{}, nil
	}

	var record throttleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.ThrottleState{}, fmt.Errorf("decode throttle record: %w", err)
	}

	times := record.Times
	if times < 0 {
		times = 0
	}

	state := domain.ThrottleState{
		RequestCount:   times,
		CooldownActive: record.IsLimit,
	}

	var err error
	if state.CooldownEndsAt, err = parseTimePtr("endDate", record.EndDate); err != nil {
		return domain.ThrottleState{}, err
	}
	if state.LastRequestAt, err = parseTimePtr("lastDate", record.LastDate); err != nil {
		return domain.ThrottleState{}, err
	}
	if state.WindowResetAt, err = parseTimePtr("resetDate", record.ResetDate); err != nil {
		return domain.ThrottleState{}, err
	}
	if state.CooldownEndsAt == nil {
		state.CooldownActive = false
	}

	return state, nil
}

func EncodeSession(record domain.SessionTokenRecord) ([]byte, error) {
	expires := ""
	if record.ExpiresAt != nil {
		expires = record.ExpiresAt.UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(sessionRecord{Token: record.Token, Expires: expires})
	if err != nil {
		return nil, fmt.Errorf("encode session record %q: %w", record.Identity, err)
	}

	return data, nil
}

func DecodeSession(identity string, data []byte) (domain.SessionTokenRecord, error) {
	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.SessionTokenRecord{}, fmt.Errorf("decode session record %q: %w", identity, err)
	}

	// An unreadable expiry is treated as absent, which forces a refresh.
	expiresAt, _ := parseTimePtr("Expires", &record.Expires)

	return domain.SessionTokenRecord{
		Identity:  identity,
		Token:     record.Token,
		ExpiresAt: expiresAt,
	}, nil
}

func formatTimePtr(value *time.Time) *string {
	if value == nil || value.IsZero() {
		return nil
	}

	formatted := value.UTC().Format(time.RFC3339Nano)
	return &formatted
}

func parseTimePtr(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("decode throttle record: %s: %w", field, err)
	}

	parsed = parsed.UTC()
	return &parsed, nil
}
