package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/umeng-cli/internal/adapters/secrets/file"
	passstore "github.com/bnema/umeng-cli/internal/adapters/secrets/pass"
	"github.com/bnema/umeng-cli/internal/ports"
	"go.uber.org/zap"
)

// Store tries the primary backend and falls through to the fallback on any
// error other than context cancellation.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
	logger   *zap.Logger
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore, logger *zap.Logger) *Store {
	store, err := NewStoreChecked(primary, fallback, logger)
	if err != nil {
		panic(err)
	}

	return store
}

func NewStoreChecked(primary ports.SecretStore, fallback ports.SecretStore, logger *zap.Logger) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{primary: primary, fallback: fallback, logger: logger}, nil
}

// NewPassFirstWithFileFallback prefers pass(1) and keeps plain files under
// fileRoot for hosts without it. An empty passDir uses the pass default.
func NewPassFirstWithFileFallback(fileRoot string, passDir string, logger *zap.Logger) (*Store, error) {
	var opts []passstore.Option
	if passDir != "" {
		opts = append(opts, passstore.WithStoreDir(passDir))
	}

	return NewStoreChecked(passstore.NewStore(opts...), filestore.NewStore(fileRoot), logger)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}
	s.logFallback("put", key, err)

	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}
	s.logFallback("get", key, err)

	fallbackValue, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}

	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %w", err, fallbackErr)
}

// Delete removes key from both backends. The fallback can hold a copy written
// while the primary was unavailable.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if err != nil {
		if shouldSkipFallback(err) {
			return err
		}
		s.logFallback("delete", key, err)
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	switch {
	case fallbackErr == nil:
		return nil
	case err == nil:
		return fmt.Errorf("fallback backend delete failed: %w", fallbackErr)
	default:
		return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
	}
}

func (s *Store) logFallback(op string, key string, err error) {
	s.logger.Debug("secret store falling back", zap.String("op", op), zap.String("key", key), zap.Error(err))
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
