package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type memoryStateStore struct {
	mu              sync.Mutex
	lock            chan struct{}
	throttle        domain.ThrottleState
	sessions        map[string]domain.SessionTokenRecord
	cooldownEntries int
	saveErr         error
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{
		lock:     make(chan struct{}, 1),
		sessions: map[string]domain.SessionTokenRecord{},
	}
}

func (s *memoryStateStore) LoadThrottle(context.Context) (domain.ThrottleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle, nil
}

func (s *memoryStateStore) SaveThrottle(_ context.Context, state domain.ThrottleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if state.CooldownActive && !s.throttle.CooldownActive {
		s.cooldownEntries++
	}
	s.throttle = state
	return nil
}

func (s *memoryStateStore) LockThrottle(ctx context.Context) (func() error, error) {
	select {
	case s.lock <- struct{}{}:
		return func() error {
			<-s.lock
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memoryStateStore) Throttle() domain.ThrottleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle
}

func (s *memoryStateStore) CooldownEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownEntries
}

func (s *memoryStateStore) GetSessionToken(_ context.Context, identity string) (domain.SessionTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[identity]
	if !ok {
		return domain.SessionTokenRecord{}, domain.ErrSessionTokenNotFound
	}
	return record, nil
}

func (s *memoryStateStore) SaveSessionToken(_ context.Context, record domain.SessionTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions[record.Identity] = record
	return nil
}

func (s *memoryStateStore) Close() error {
	return nil
}

type mockHandshaker struct {
	mock.Mock
}

func (m *mockHandshaker) Login(ctx context.Context, identity string, secret string) (domain.SessionTokenRecord, error) {
	args := m.Called(ctx, identity, secret)
	return args.Get(0).(domain.SessionTokenRecord), args.Error(1)
}

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Account), args.Error(1)
}

func (m *mockAccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]domain.Account)
	return accounts, args.Error(1)
}

func (m *mockAccountRepository) Save(ctx context.Context, account domain.Account) error {
	return m.Called(ctx, account).Error(0)
}

type mockSecretStore struct {
	mock.Mock
}

func (m *mockSecretStore) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockSecretStore) Put(ctx context.Context, key string, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockSecretStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newMockAccountRepository(t *testing.T) *mockAccountRepository {
	m := &mockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func newMockSecretStore(t *testing.T) *mockSecretStore {
	m := &mockSecretStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func mockAnyContext() interface{} {
	return mock.Anything
}

var errBoom = errors.New("boom")
