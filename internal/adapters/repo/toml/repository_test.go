package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	first := domain.Account{
		ID:    "acc-1",
		Name:  "Primary",
		Email: "primary@example.com",
		Auth:  domain.Auth{SecretRef: "umeng/accounts/acc-1/password"},
	}
	second := domain.Account{
		ID:    "acc-2",
		Name:  "Backup",
		Email: "backup@example.com",
		Auth:  domain.Auth{SecretRef: "umeng/accounts/acc-2/password"},
	}

	require.NoError(t, repo.Save(context.Background(), first))
	require.NoError(t, repo.Save(context.Background(), second))

	got, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Account{first, second}, accounts)
}

func TestRepositoryUpdatesExistingAccountInPlace(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "acc-1", Name: "Primary"}))
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "acc-1", Name: "Renamed", Email: "a@b.com"}))

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Renamed", accounts[0].Name)
	assert.Equal(t, "a@b.com", accounts[0].Email)
}

func TestRepositoryReadsHandWrittenFileWithoutAuth(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(accountsPath, []byte(strings.Join([]string{
		"version = 1",
		"",
		"[[accounts]]",
		"id = \"acc-1\"",
		"name = \"Primary\"",
		"email = \"a@b.com\"",
		"",
	}, "\n")), 0o600))

	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	account, err := repo.GetByID(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", account.Email)
	assert.False(t, account.Auth.Configured())
}

func TestRepositoryExpandsHomeInConfiguredPath(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	config := viper.New()
	config.Set("accounts.path", "~/registry/accounts.toml")

	repo, err := NewRepository(config)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(homeDir, "registry", "accounts.toml"), repo.Path())
}

func TestRepositorySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	repo, err := NewRepository(viper.New())
	require.NoError(t, err)

	err = repo.Save(context.Background(), domain.Account{ID: "acc-1", Name: "Primary", Email: "a@b.com"})
	require.NoError(t, err)

	accountsPath := filepath.Join(homeDir, ".umeng", "accounts.toml")
	info, err := os.Stat(accountsPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRepositoryMissingFileBehaviors(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "missing", "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = repo.GetByID(context.Background(), "acc-1")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRepositoryListMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(accountsPath, []byte("accounts = ["), 0o600))

	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode accounts file")
}

func TestRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = repo.Save(ctx, domain.Account{ID: "acc-1", Name: "Primary"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRepositoryConcurrentSavesAcrossInstancesPreserveBothAccounts(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")

	newRepo := func() *Repository {
		config := viper.New()
		config.Set("accounts.path", accountsPath)
		repo, err := NewRepository(config)
		require.NoError(t, err)
		return repo
	}

	repoA := newRepo()
	repoB := newRepo()

	const perRepoWrites = 100
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoA.Save(context.Background(), domain.Account{ID: domain.AccountID("acc-a-" + strconv.Itoa(i)), Name: "A"})
		}
	}()

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoB.Save(context.Background(), domain.Account{ID: domain.AccountID("acc-b-" + strconv.Itoa(i)), Name: "B"})
		}
	}()

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	accounts, err := repoA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, perRepoWrites*2)
}

func TestRepositorySaveSerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "acc-1", Name: "Primary"}))

	data, err := os.ReadFile(accountsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
}

func TestRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(accountsPath, []byte(strings.Join([]string{
		"version = 999",
		"",
		"accounts = []",
		"",
	}, "\n")), 0o600))

	config := viper.New()
	config.Set("accounts.path", accountsPath)
	repo, err := NewRepository(config)
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported accounts schema version")
}

func TestRepositorySaveRejectsEmailOwnedByAnotherAccount(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "1", Name: "Primary", Email: "ops@example.com"}))

	err = repo.Save(context.Background(), domain.Account{ID: "2", Name: "Copy", Email: " OPS@example.com "})
	require.ErrorIs(t, err, domain.ErrEmailInUse)
	assert.ErrorContains(t, err, "account 1")

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, domain.AccountID("1"), accounts[0].ID)
}

func TestRepositorySaveAllowsOwnerToKeepOrChangeEmail(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "1", Email: "ops@example.com"}))
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "1", Name: "Renamed", Email: "Ops@Example.com"}))
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "1", Email: "new@example.com"}))

	// The released address is free for another account.
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "2", Email: "ops@example.com"}))

	// Accounts without an email never conflict.
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "3"}))
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "4"}))

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 4)
}

func TestRepositorySaveLeavesNoStagingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	config := viper.New()
	config.Set("accounts.path", filepath.Join(dir, "accounts.toml"))

	repo, err := NewRepository(config)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "1", Email: "a@b.com"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"accounts.toml", "accounts.toml.lock"}, names)
}
