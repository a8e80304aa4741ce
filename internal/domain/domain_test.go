package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleEvaluateCountsBelowCeilingWithoutWaiting(t *testing.T) {
	policy := ThrottlePolicy{Ceiling: 5, Window: time.Minute, Anchor: AnchorConservative}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := ThrottleState{}
	for i := 1; i <= 5; i++ {
		var wait time.Duration
		state, wait = policy.Evaluate(state, start.Add(time.Duration(i)*time.Second))
		require.Zero(t, wait)
		assert.Equal(t, i, state.RequestCount)
	}

	require.NotNil(t, state.WindowResetAt)
	assert.Equal(t, start.Add(time.Second), *state.WindowResetAt)
	require.NotNil(t, state.LastRequestAt)
	assert.Equal(t, start.Add(5*time.Second), *state.LastRequestAt)
	assert.False(t, state.CooldownActive)
}

func TestThrottleEvaluateEntersCooldownUntilWindowEnd(t *testing.T) {
	policy := ThrottlePolicy{Ceiling: 3, Window: 10 * time.Second, Anchor: AnchorWindowStart}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := ThrottleState{}
	for i := 0; i < 3; i++ {
		state, _ = policy.Evaluate(state, start)
	}

	next, wait := policy.Evaluate(state, start.Add(2*time.Second))
	assert.Equal(t, 8*time.Second, wait)
	assert.True(t, next.CooldownActive)
	require.NotNil(t, next.CooldownEndsAt)
	assert.Equal(t, start.Add(10*time.Second), *next.CooldownEndsAt)
	assert.Equal(t, 3, next.RequestCount)

	resumed, wait := policy.Evaluate(next, start.Add(10*time.Second))
	assert.Zero(t, wait)
	assert.False(t, resumed.CooldownActive)
	assert.Nil(t, resumed.CooldownEndsAt)
	assert.Equal(t, 1, resumed.RequestCount)
	assert.Equal(t, start.Add(10*time.Second), *resumed.WindowResetAt)
}

func TestThrottleEvaluateCooldownStillRunning(t *testing.T) {
	policy := DefaultThrottlePolicy()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	endsAt := now.Add(90 * time.Second)

	state := ThrottleState{RequestCount: 500, CooldownActive: true, CooldownEndsAt: &endsAt}
	next, wait := policy.Evaluate(state, now)
	assert.Equal(t, 90*time.Second, wait)
	assert.Equal(t, state, next)
}

func TestThrottleEvaluateAnchorPolicies(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	windowStart := start
	lastRequest := start.Add(4 * time.Second)
	now := start.Add(5 * time.Second)
	state := ThrottleState{RequestCount: 3, WindowResetAt: &windowStart, LastRequestAt: &lastRequest}

	tests := []struct {
		name   string
		anchor ThrottleAnchor
		want   time.Duration
	}{
		{name: "window start", anchor: AnchorWindowStart, want: 5 * time.Second},
		{name: "last request", anchor: AnchorLastRequest, want: 9 * time.Second},
		{name: "conservative picks later anchor", anchor: AnchorConservative, want: 9 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy := ThrottlePolicy{Ceiling: 3, Window: 10 * time.Second, Anchor: tc.anchor}
			_, wait := policy.Evaluate(state, now)
			assert.Equal(t, tc.want, wait)
		})
	}
}

func TestThrottleEvaluateRollsOverExpiredWindow(t *testing.T) {
	policy := ThrottlePolicy{Ceiling: 3, Window: 10 * time.Second, Anchor: AnchorConservative}
	windowStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lastRequest := windowStart.Add(9 * time.Second)
	now := windowStart.Add(11 * time.Second)

	state := ThrottleState{RequestCount: 3, WindowResetAt: &windowStart, LastRequestAt: &lastRequest}
	next, wait := policy.Evaluate(state, now)
	assert.Zero(t, wait)
	assert.Equal(t, 1, next.RequestCount)
	assert.Equal(t, now, *next.WindowResetAt)
}

func TestThrottleEvaluateWaitNeverExceedsWindow(t *testing.T) {
	policy := ThrottlePolicy{Ceiling: 1, Window: 10 * time.Second, Anchor: AnchorLastRequest}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	_, wait := policy.Evaluate(ThrottleState{RequestCount: 1, LastRequestAt: &future, WindowResetAt: &now}, now)
	assert.Equal(t, 10*time.Second, wait)
}

func TestThrottlePolicyValidate(t *testing.T) {
	require.NoError(t, DefaultThrottlePolicy().Validate())

	assert.ErrorContains(t, ThrottlePolicy{Ceiling: 0, Window: time.Second, Anchor: AnchorConservative}.Validate(), "ceiling")
	assert.ErrorContains(t, ThrottlePolicy{Ceiling: 1, Window: 0, Anchor: AnchorConservative}.Validate(), "window")
	assert.ErrorContains(t, ThrottlePolicy{Ceiling: 1, Window: time.Second, Anchor: "newest"}.Validate(), "anchor")
}

func TestSessionTokenRecordUsable(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, SessionTokenRecord{Token: "tok", ExpiresAt: &future}.Usable(now))
	assert.False(t, SessionTokenRecord{Token: "tok", ExpiresAt: &now}.Usable(now))
	assert.False(t, SessionTokenRecord{Token: "tok", ExpiresAt: &past}.Usable(now))
	assert.False(t, SessionTokenRecord{Token: "tok"}.Usable(now))
	assert.False(t, SessionTokenRecord{ExpiresAt: &future}.Usable(now))
}

func TestSessionTokenRecordCookieHeader(t *testing.T) {
	assert.Equal(t, "umplus_uc_token=abc", SessionTokenRecord{Token: "abc"}.CookieHeader())
}
