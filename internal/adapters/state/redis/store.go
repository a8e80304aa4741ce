package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/umeng-cli/internal/adapters/state"
	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "umeng"
	defaultLockTTL = 30 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	LockTTL  time.Duration
}

type Store struct {
	client  goredis.UniversalClient
	prefix  string
	lockTTL time.Duration
}

var _ ports.StateStore = (*Store)(nil)

func NewStore(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return NewStoreWithClient(client, opts.Prefix, opts.LockTTL), nil
}

func NewStoreWithClient(client goredis.UniversalClient, prefix string, lockTTL time.Duration) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Store{client: client, prefix: prefix, lockTTL: lockTTL}
}

func (s *Store) LoadThrottle(ctx context.Context) (domain.ThrottleState, error) {
	data, err := s.client.Get(ctx, s.key("throttle")).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.ThrottleState{}, nil
		}
		return domain.ThrottleState{}, fmt.Errorf("read throttle state: %w", err)
	}

	return state.DecodeThrottle(data)
}

func (s *Store) SaveThrottle(ctx context.Context, throttle domain.ThrottleState) error {
	data, err := state.EncodeThrottle(throttle)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key("throttle"), data, 0).Err(); err != nil {
		return fmt.Errorf("write throttle state: %w", err)
	}

	return nil
}

func (s *Store) LockThrottle(ctx context.Context) (func() error, error) {
	lockKey := s.key("throttle", "lock")
	token := uuid.NewString()

	for {
		acquired, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock throttle state: %w", err)
		}
		if acquired {
			break
		}

		timer := time.NewTimer(lockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock throttle state: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return func() error {
		// The caller's context may already be done; release must still run.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, s.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("unlock throttle state: %w", err)
		}
		return nil
	}, nil
}

func (s *Store) GetSessionToken(ctx context.Context, identity string) (domain.SessionTokenRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.SessionTokenRecord{}, errors.New("session identity is empty")
	}

	data, err := s.client.HGet(ctx, s.key("sessions"), identity).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.SessionTokenRecord{}, domain.ErrSessionTokenNotFound
		}
		return domain.SessionTokenRecord{}, fmt.Errorf("read session state: %w", err)
	}

	return state.DecodeSession(identity, data)
}

func (s *Store) SaveSessionToken(ctx context.Context, record domain.SessionTokenRecord) error {
	identity := strings.TrimSpace(record.Identity)
	if identity == "" {
		return errors.New("session identity is empty")
	}

	data, err := state.EncodeSession(record)
	if err != nil {
		return err
	}

	if err := s.client.HSet(ctx, s.key("sessions"), identity, data).Err(); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}
