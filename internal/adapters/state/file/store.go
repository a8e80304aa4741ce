package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/umeng-cli/internal/adapters/state"
	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"github.com/gofrs/flock"
)

const (
	stateDirMode    = 0o700
	stateFileMode   = 0o600
	throttleFile    = "throttle.json"
	sessionsFile    = "sessions.json"
	lockSuffix      = ".lock"
	lockRetryDelay  = 25 * time.Millisecond
	tempFilePattern = ".state-*.json.tmp"
)

type Store struct {
	root         string
	throttlePath string
	sessionsPath string
	throttleMu   *sync.RWMutex
	sessionsMu   *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.StateStore = (*Store)(nil)

func NewStore(root string) *Store {
	root = filepath.Clean(root)
	throttlePath := filepath.Join(root, throttleFile)
	sessionsPath := filepath.Join(root, sessionsFile)

	return &Store{
		root:         root,
		throttlePath: throttlePath,
		sessionsPath: sessionsPath,
		throttleMu:   lockForPath(throttlePath),
		sessionsMu:   lockForPath(sessionsPath),
	}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) LoadThrottle(ctx context.Context) (domain.ThrottleState, error) {
	if err := ctx.Err(); err != nil {
		return domain.ThrottleState{}, err
	}

	s.throttleMu.RLock()
	defer s.throttleMu.RUnlock()

	data, err := readFile(s.throttlePath)
	if err != nil {
		return domain.ThrottleState{}, fmt.Errorf("read throttle state: %w", err)
	}

	return state.DecodeThrottle(data)
}

func (s *Store) SaveThrottle(ctx context.Context, throttle domain.ThrottleState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := state.EncodeThrottle(throttle)
	if err != nil {
		return err
	}

	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()

	if err := writeFileAtomic(s.throttlePath, data); err != nil {
		return fmt.Errorf("write throttle state: %w", err)
	}

	return nil
}

func (s *Store) LockThrottle(ctx context.Context) (func() error, error) {
	return s.acquire(ctx, s.throttlePath)
}

func (s *Store) GetSessionToken(ctx context.Context, identity string) (domain.SessionTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionTokenRecord{}, err
	}

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.SessionTokenRecord{}, errors.New("session identity is empty")
	}

	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	records, err := s.readSessions()
	if err != nil {
		return domain.SessionTokenRecord{}, err
	}

	raw, ok := records[identity]
	if !ok {
		return domain.SessionTokenRecord{}, domain.ErrSessionTokenNotFound
	}

	return state.DecodeSession(identity, raw)
}

func (s *Store) SaveSessionToken(ctx context.Context, record domain.SessionTokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	identity := strings.TrimSpace(record.Identity)
	if identity == "" {
		return errors.New("session identity is empty")
	}

	encoded, err := state.EncodeSession(record)
	if err != nil {
		return err
	}

	unlock, err := s.acquire(ctx, s.sessionsPath)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	records, err := s.readSessions()
	if err != nil {
		return err
	}
	records[identity] = encoded

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode sessions file: %w", err)
	}

	if err := writeFileAtomic(s.sessionsPath, data); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) readSessions() (state.SessionRecords, error) {
	data, err := readFile(s.sessionsPath)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	records := state.SessionRecords{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode sessions file: %w", err)
	}

	return records, nil
}

func (s *Store) acquire(ctx context.Context, path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirMode); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", filepath.Base(path))
	}

	return lock.Unlock, nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), stateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}

	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	cleanup = false
	return nil
}
