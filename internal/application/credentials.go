package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errIdentityRequired = errors.New("identity is required")

// CredentialCache serves persisted session tokens and refreshes them through
// the handshake when they are missing or expired. Refreshes for the same
// identity are shared by concurrent callers.
type CredentialCache struct {
	repo       ports.SessionTokenRepository
	handshaker ports.Handshaker
	clock      ports.Clock
	logger     *zap.Logger
	flights    singleflight.Group
}

func NewCredentialCache(repo ports.SessionTokenRepository, handshaker ports.Handshaker, clock ports.Clock, logger *zap.Logger) *CredentialCache {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CredentialCache{repo: repo, handshaker: handshaker, clock: clock, logger: logger}
}

func (c *CredentialCache) GetToken(ctx context.Context, identity string, secret string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", errIdentityRequired
	}

	record, _, err := c.Peek(ctx, identity)
	if err != nil {
		return "", err
	}
	if record.Usable(c.clock.Now()) {
		return record.Token, nil
	}

	// The flight outlives any single caller; each handshake step carries its
	// own timeout.
	flightCtx := context.WithoutCancel(ctx)
	results := c.flights.DoChan(flightKey(identity, secret), func() (any, error) {
		return c.refresh(flightCtx, identity, secret)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

// flightKey separates callers presenting different secrets for one identity,
// so a wrong password never answers for the right one. The record is still
// stored per identity and the last successful handshake wins.
func flightKey(identity string, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return identity + "\x00" + hex.EncodeToString(sum[:])
}

// Peek returns the stored record for identity without refreshing it.
func (c *CredentialCache) Peek(ctx context.Context, identity string) (domain.SessionTokenRecord, bool, error) {
	record, err := c.repo.GetSessionToken(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrSessionTokenNotFound) {
			return domain.SessionTokenRecord{Identity: identity}, false, nil
		}
		return domain.SessionTokenRecord{}, false, fmt.Errorf("load session token: %w", err)
	}

	return record, true, nil
}

func (c *CredentialCache) refresh(ctx context.Context, identity string, secret string) (string, error) {
	// Another process may have refreshed while this caller waited for the flight.
	record, _, err := c.Peek(ctx, identity)
	if err != nil {
		return "", err
	}
	if record.Usable(c.clock.Now()) {
		return record.Token, nil
	}

	c.logger.Info("refreshing session token", zap.String("identity", identity))

	fresh, err := c.handshaker.Login(ctx, identity, secret)
	if err != nil {
		c.logger.Warn("session handshake failed", zap.String("identity", identity), zap.Error(err))
		return "", err
	}
	if fresh.Token == "" {
		return "", fmt.Errorf("extract session cookie: %w: empty %s value", domain.ErrHandshakeFailure, domain.SessionCookieName)
	}
	fresh.Identity = identity

	if err := c.repo.SaveSessionToken(ctx, fresh); err != nil {
		return "", fmt.Errorf("save session token: %w", err)
	}

	if fresh.ExpiresAt == nil {
		c.logger.Warn("session cookie has no expiry, token will not be reused", zap.String("identity", identity))
	} else {
		c.logger.Info("session token refreshed", zap.String("identity", identity), zap.Time("expires_at", *fresh.ExpiresAt))
	}

	return fresh.Token, nil
}
