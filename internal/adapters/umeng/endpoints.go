package umeng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

const (
	PathAuthorize      = "/authorize"
	PathApps           = "/apps"
	PathAppsCount      = "/apps/count"
	PathChannels       = "/channels"
	PathVersions       = "/versions"
	PathTodayData      = "/today_data"
	PathYesterdayData  = "/yesterday_data"
	PathBaseData       = "/base_data"
	PathSegmentations  = "/segmentations"
	PathNewUsers       = "/new_users"
	PathActiveUsers    = "/active_users"
	PathLaunches       = "/launches"
	PathDurations      = "/durations"
	PathRetentions     = "/retentions"
	PathEventGroups    = "/events/group_list"
	PathEventList      = "/events/event_list"
	PathEventDaily     = "/events/daily_data"
	PathEventParams    = "/events/parameter_list"
	PathEventParamData = "/events/parameter_data"
	PathFeedbacks      = "/feedbacks"

	PathSessionSummary   = "/app/whole/summary"
	PathSessionRetention = "/app/retention/view"
	PathSessionTrend     = "/app/whole/trend"
)

type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	switch p {
	case "", PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

var errHourlyRetention = errors.New("hourly period is unavailable for retentions")

// DateRange selects the app data series; dates are YYYY-MM-DD.
type DateRange struct {
	Start  string
	End    string
	Period Period
}

type authorizeResponse struct {
	Code      int    `json:"code"`
	AuthToken string `json:"auth_token"`
}

// Authorize exchanges the account credentials for an API auth token.
func (c *Client) Authorize(ctx context.Context) (string, error) {
	raw, err := c.Post(ctx, PathAuthorize, map[string]string{
		"email":    c.account.Email,
		"password": c.account.Password,
	})
	if err != nil {
		return "", err
	}

	var payload authorizeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode authorize response: %w", err)
	}
	if payload.Code != 200 || payload.AuthToken == "" {
		return "", fmt.Errorf("authorize: %w: code %d", ErrUnexpectedStatus, payload.Code)
	}

	return payload.AuthToken, nil
}

func (c *Client) Apps(ctx context.Context, page int, perPage int, search string) (json.RawMessage, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))
	if search != "" {
		query.Set("q", search)
	}

	return c.Get(ctx, PathApps, query)
}

func (c *Client) AppsCount(ctx context.Context) (int, error) {
	raw, err := c.Get(ctx, PathAppsCount, nil)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("decode apps count: %w", err)
	}

	return payload.Count, nil
}

func (c *Client) TodayData(ctx context.Context, appKey string) (json.RawMessage, error) {
	return c.Get(ctx, PathTodayData, url.Values{"appkey": {appKey}})
}

func (c *Client) YesterdayData(ctx context.Context, appKey string) (json.RawMessage, error) {
	return c.Get(ctx, PathYesterdayData, url.Values{"appkey": {appKey}})
}

func (c *Client) BaseData(ctx context.Context, appKey string, date string) (json.RawMessage, error) {
	return c.Get(ctx, PathBaseData, url.Values{"appkey": {appKey}, "date": {date}})
}

// AppData reads one of the dated series endpoints (new users, launches, ...).
func (c *Client) AppData(ctx context.Context, path string, appKey string, dates DateRange) (json.RawMessage, error) {
	if !dates.Period.Valid() {
		return nil, fmt.Errorf("unsupported period %q", dates.Period)
	}
	if path == PathRetentions && dates.Period == PeriodHourly {
		return nil, errHourlyRetention
	}

	query := url.Values{}
	query.Set("appkey", appKey)
	query.Set("start_date", dates.Start)
	query.Set("end_date", dates.End)
	if dates.Period != "" {
		query.Set("period_type", string(dates.Period))
	}

	return c.Get(ctx, path, query)
}

func (c *Client) SessionSummary(ctx context.Context, relatedID string) (json.RawMessage, error) {
	return c.SessionGet(ctx, PathSessionSummary, url.Values{"view": {"summary"}, "relatedId": {relatedID}})
}

func (c *Client) SessionRetention(ctx context.Context, relatedID string) (json.RawMessage, error) {
	return c.SessionGet(ctx, PathSessionRetention, url.Values{"relatedId": {relatedID}})
}

func (c *Client) SessionTrend(ctx context.Context, relatedID string) (json.RawMessage, error) {
	return c.SessionGet(ctx, PathSessionTrend, url.Values{"relatedId": {relatedID}})
}
