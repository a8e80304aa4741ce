package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"go.uber.org/zap"
)

type ThrottleStatus struct {
	Policy domain.ThrottlePolicy
	State  domain.ThrottleState
	// Wait is the remaining cooldown at the time of the snapshot.
	Wait time.Duration
}

// Throttle admits outbound requests against a persisted fixed-window quota.
// Every decision is a locked load-evaluate-save cycle; cooldown waits happen
// outside the lock and are re-evaluated after waking.
type Throttle struct {
	repo   ports.ThrottleStateRepository
	policy domain.ThrottlePolicy
	clock  ports.Clock
	logger *zap.Logger
	mu     sync.Mutex

	lockTimeout time.Duration
}

type ThrottleOption func(*Throttle)

// WithLockTimeout bounds how long a decision waits for the store lock.
func WithLockTimeout(timeout time.Duration) ThrottleOption {
	return func(t *Throttle) {
		t.lockTimeout = timeout
	}
}

func NewThrottle(repo ports.ThrottleStateRepository, policy domain.ThrottlePolicy, clock ports.Clock, logger *zap.Logger, opts ...ThrottleOption) (*Throttle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	throttle := &Throttle{repo: repo, policy: policy, clock: clock, logger: logger}
	for _, opt := range opts {
		opt(throttle)
	}

	return throttle, nil
}

func (t *Throttle) Policy() domain.ThrottlePolicy {
	return t.policy
}

// Admit blocks until the request fits the quota, then counts it.
func (t *Throttle) Admit(ctx context.Context) error {
	for {
		wait, err := t.decide(ctx)
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}

		t.logger.Debug("waiting for throttle cooldown", zap.Duration("wait", wait))
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (t *Throttle) Status(ctx context.Context) (ThrottleStatus, error) {
	state, err := t.repo.LoadThrottle(ctx)
	if err != nil {
		return ThrottleStatus{}, t.unavailable(ctx, "load throttle state", err)
	}

	status := ThrottleStatus{Policy: t.policy, State: state}
	if state.CooldownActive && state.CooldownEndsAt != nil {
		if remaining := state.CooldownEndsAt.Sub(t.clock.Now()); remaining > 0 {
			status.Wait = remaining
		}
	}

	return status, nil
}

// Reset discards the persisted window and any active cooldown.
func (t *Throttle) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	unlock, err := t.lock(ctx)
	if err != nil {
		return t.unavailable(ctx, "lock throttle state", err)
	}
	defer t.release(unlock)

	if err := t.repo.SaveThrottle(ctx, domain.ThrottleState{}); err != nil {
		return t.unavailable(ctx, "save throttle state", err)
	}

	t.logger.Info("throttle state reset")
	return nil
}

func (t *Throttle) decide(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	unlock, err := t.lock(ctx)
	if err != nil {
		return 0, t.unavailable(ctx, "lock throttle state", err)
	}
	defer t.release(unlock)

	state, err := t.repo.LoadThrottle(ctx)
	if err != nil {
		return 0, t.unavailable(ctx, "load throttle state", err)
	}

	now := t.clock.Now()
	next, wait := t.policy.Evaluate(state, now)

	// A cooldown another caller already persisted needs no write.
	if wait > 0 && state.CooldownActive {
		return wait, nil
	}

	if err := t.repo.SaveThrottle(ctx, next); err != nil {
		return 0, t.unavailable(ctx, "save throttle state", err)
	}

	switch {
	case wait > 0:
		t.logger.Info("throttle ceiling reached, cooling down",
			zap.Int("requests", next.RequestCount),
			zap.Int("ceiling", t.policy.Ceiling),
			zap.Time("cooldown_ends_at", *next.CooldownEndsAt),
		)
	case state.CooldownActive:
		t.logger.Info("throttle cooldown elapsed", zap.Int("requests", next.RequestCount))
	default:
		t.logger.Debug("request admitted", zap.Int("requests", next.RequestCount), zap.Int("ceiling", t.policy.Ceiling))
	}

	return wait, nil
}

func (t *Throttle) lock(ctx context.Context) (func() error, error) {
	if t.lockTimeout <= 0 {
		return t.repo.LockThrottle(ctx)
	}

	lockCtx, cancel := context.WithTimeout(ctx, t.lockTimeout)
	defer cancel()

	return t.repo.LockThrottle(lockCtx)
}

func (t *Throttle) release(unlock func() error) {
	if err := unlock(); err != nil {
		t.logger.Warn("release throttle lock", zap.Error(err))
	}
}

func (t *Throttle) unavailable(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return fmt.Errorf("%s: %w: %w", step, domain.ErrThrottleUnavailable, err)
}
