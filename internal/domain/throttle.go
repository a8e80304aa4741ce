package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultThrottleCeiling = 500
	DefaultThrottleWindow  = 15 * time.Minute
)

// ThrottleAnchor selects which timestamp the elapsed-time check measures from
// once the ceiling is reached.
type ThrottleAnchor string

const (
	AnchorWindowStart  ThrottleAnchor = "window_start"
	AnchorLastRequest  ThrottleAnchor = "last_request"
	AnchorConservative ThrottleAnchor = "conservative"
)

func (a ThrottleAnchor) Valid() bool {
	switch a {
	case AnchorWindowStart, AnchorLastRequest, AnchorConservative:
		return true
	default:
		return false
	}
}

type ThrottlePolicy struct {
	Ceiling int
	Window  time.Duration
	Anchor  ThrottleAnchor
}

func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		Ceiling: DefaultThrottleCeiling,
		Window:  DefaultThrottleWindow,
		Anchor:  AnchorConservative,
	}
}

func (p ThrottlePolicy) Validate() error {
	if p.Ceiling <= 0 {
		return errors.New("throttle ceiling must be positive")
	}
	if p.Window <= 0 {
		return errors.New("throttle window must be positive")
	}
	if !p.Anchor.Valid() {
		return fmt.Errorf("unsupported throttle anchor %q", p.Anchor)
	}

	return nil
}

type ThrottleState struct {
	RequestCount   int
	WindowResetAt  *time.Time
	CooldownActive bool
	CooldownEndsAt *time.Time
	LastRequestAt  *time.Time
}

// Evaluate applies the policy to state at now. A positive wait means the
// returned state must be persisted and the caller must sleep for wait before
// evaluating again. A zero wait means the returned state already counts the
// admitted request.
func (p ThrottlePolicy) Evaluate(state ThrottleState, now time.Time) (ThrottleState, time.Duration) {
	next := state

	if next.CooldownActive {
		if next.CooldownEndsAt != nil {
			if remaining := next.CooldownEndsAt.Sub(now); remaining > 0 {
				return next, remaining
			}
		}
		next.CooldownActive = false
		next.CooldownEndsAt = nil
		next.RequestCount = 0
		next.WindowResetAt = timePtr(now)
	}

	if next.WindowResetAt != nil && now.Sub(*next.WindowResetAt) > p.Window {
		next.RequestCount = 0
		next.WindowResetAt = timePtr(now)
	}

	if next.RequestCount >= p.Ceiling {
		elapsed := now.Sub(p.anchorTime(next, now))
		if elapsed < 0 {
			elapsed = 0
		}
		if remaining := p.Window - elapsed; remaining > 0 {
			next.CooldownActive = true
			next.CooldownEndsAt = timePtr(now.Add(remaining))
			return next, remaining
		}
		next.RequestCount = 0
		next.WindowResetAt = timePtr(now)
	}

	next.RequestCount++
	next.LastRequestAt = timePtr(now)
	if next.WindowResetAt == nil {
		next.WindowResetAt = timePtr(now)
	}

	return next, 0
}

func (p ThrottlePolicy) anchorTime(state ThrottleState, now time.Time) time.Time {
	switch p.Anchor {
	case AnchorWindowStart:
		if state.WindowResetAt != nil {
			return *state.WindowResetAt
		}
	case AnchorLastRequest:
		if state.LastRequestAt != nil {
			return *state.LastRequestAt
		}
	default:
		switch {
		case state.WindowResetAt != nil && state.LastRequestAt != nil:
			if state.LastRequestAt.After(*state.WindowResetAt) {
				return *state.LastRequestAt
			}
			return *state.WindowResetAt
		case state.LastRequestAt != nil:
			return *state.LastRequestAt
		case state.WindowResetAt != nil:
			return *state.WindowResetAt
		}
	}

	return now
}

func timePtr(value time.Time) *time.Time {
	return &value
}
