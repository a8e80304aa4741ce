package ports

import (
	"context"

	"github.com/bnema/umeng-cli/internal/domain"
)

// ThrottleStateRepository persists the deployment-wide throttle record.
// LoadThrottle returns the zero state when nothing has been stored yet.
type ThrottleStateRepository interface {
	LoadThrottle(ctx context.Context) (domain.ThrottleState, error)
	SaveThrottle(ctx context.Context, state domain.ThrottleState) error
	// LockThrottle excludes other processes from the throttle record until
	// the returned unlock func is called.
	LockThrottle(ctx context.Context) (func() error, error)
}

type SessionTokenRepository interface {
	GetSessionToken(ctx context.Context, identity string) (domain.SessionTokenRecord, error)
	SaveSessionToken(ctx context.Context, record domain.SessionTokenRecord) error
}

type StateStore interface {
	ThrottleStateRepository
	SessionTokenRepository
	Close() error
}
