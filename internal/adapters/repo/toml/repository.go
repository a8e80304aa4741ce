package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"github.com/gofrs/flock"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	accountsPathKey  = "accounts.path"
	defaultDirName   = ".umeng"
	defaultFileName  = "accounts.toml"
	registryFileMode = 0o600
	registryDirMode  = 0o700
	lockSuffix       = ".lock"
	lockRetryDelay   = 20 * time.Millisecond
	stagingPattern   = ".accounts-*.toml.tmp"
)

// Repository keeps the account registry in one TOML document. Writers take
// an advisory file lock so that separate processes never interleave a
// read-modify-write; readers rely on the document being replaced atomically.
type Repository struct {
	path string
}

var _ ports.AccountRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg.SetDefault(accountsPathKey, filepath.Join(homeDir, defaultDirName, defaultFileName))

	configured := strings.TrimSpace(cfg.GetString(accountsPathKey))
	if configured == "" {
		return nil, errors.New("accounts path is empty")
	}

	path, err := expandPath(configured, homeDir)
	if err != nil {
		return nil, err
	}

	return &Repository{path: path}, nil
}

func (r *Repository) Path() string {
	return r.path
}

// Save inserts or replaces the account with the same ID. An email already
// registered under a different ID is rejected with domain.ErrEmailInUse.
func (r *Repository) Save(ctx context.Context, account domain.Account) error {
	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	reg, err := r.load()
	if err != nil {
		return err
	}
	if err := reg.put(account); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.store(reg)
}

func (r *Repository) GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}

	reg, err := r.load()
	if err != nil {
		return domain.Account{}, err
	}

	account, ok := reg.get(id)
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return account, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg, err := r.load()
	if err != nil {
		return nil, err
	}

	return reg.accounts(), nil
}

func (r *Repository) lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), registryDirMode); err != nil {
		return nil, fmt.Errorf("create accounts directory: %w", err)
	}

	fileLock := flock.New(r.path + lockSuffix)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock accounts file: %w", err)
	}
	if !locked {
		return nil, errors.New("lock accounts file: not acquired")
	}

	return fileLock.Unlock, nil
}

func (r *Repository) load() (*registry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return newRegistry(fileSchema{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var doc fileSchema
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if err := doc.validateVersion(); err != nil {
		return nil, err
	}

	return newRegistry(doc), nil
}

// store stages the encoded registry next to its destination and renames it
// into place.
func (r *Repository) store(reg *registry) error {
	data, err := toml.Marshal(reg.doc)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	staging, err := os.CreateTemp(filepath.Dir(r.path), stagingPattern)
	if err != nil {
		return fmt.Errorf("stage accounts file: %w", err)
	}
	stagingName := staging.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(stagingName)
		}
	}()

	writeErr := writeAll(staging, data)
	if closeErr := staging.Close(); writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("close staged accounts file: %w", closeErr)
	}
	if writeErr != nil {
		return writeErr
	}

	if err := os.Rename(stagingName, r.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	committed = true

	return nil
}

func writeAll(file *os.File, data []byte) error {
	if err := file.Chmod(registryFileMode); err != nil {
		return fmt.Errorf("chmod staged accounts file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write staged accounts file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync staged accounts file: %w", err)
	}

	return nil
}

func expandPath(path string, homeDir string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = filepath.Join(homeDir, path[1:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve accounts path: %w", err)
	}

	return abs, nil
}
