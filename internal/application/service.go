package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
)

// Service manages the account registry and the passwords referenced by it.
type Service struct {
	repo  ports.AccountRepository
	store ports.SecretStore
}

type Credentials struct {
	Email    string
	Password string
}

func NewService(repo ports.AccountRepository, store ports.SecretStore) *Service {
	return &Service{
		repo:  repo,
		store: store,
	}
}

func SecretKeyFor(id domain.AccountID) string {
	return fmt.Sprintf("umeng/accounts/%s/password", id)
}

func (s *Service) SetCredentials(ctx context.Context, id domain.AccountID, email string, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("account email is required")
	}
	if password == "" {
		return errors.New("account password is required")
	}

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("get account by id: %w", err)
		}
		account = domain.Account{ID: id, Name: email}
	}

	previousSecretRef := account.Auth.SecretRef
	secretKey := SecretKeyFor(id)

	if err := s.store.Put(ctx, secretKey, password); err != nil {
		return fmt.Errorf("store account password: %w", err)
	}

	account.Email = email
	account.Auth = domain.Auth{SecretRef: secretKey}

	if err := s.repo.Save(ctx, account); err != nil {
		if previousSecretRef != secretKey {
			if rollbackErr := s.store.Delete(ctx, secretKey); rollbackErr != nil {
				return fmt.Errorf("save account and rollback stored password: %w", errors.Join(err, rollbackErr))
			}
		}

		return fmt.Errorf("save account: %w", err)
	}

	if previousSecretRef != "" && previousSecretRef != secretKey {
		if err := s.store.Delete(ctx, previousSecretRef); err != nil {
			return fmt.Errorf("delete previous account password: %w", err)
		}
	}

	return nil
}

func (s *Service) RemoveCredentials(ctx context.Context, id domain.AccountID) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account by id: %w", err)
	}

	secretRef := account.Auth.SecretRef
	account.Auth = domain.Auth{}

	if err := s.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	if secretRef == "" {
		return nil
	}

	if err := s.store.Delete(ctx, secretRef); err != nil {
		account.Auth.SecretRef = secretRef
		if restoreErr := s.repo.Save(ctx, account); restoreErr != nil {
			return fmt.Errorf("delete account password and restore ref: %w", errors.Join(err, restoreErr))
		}
		return fmt.Errorf("delete account password: %w", err)
	}

	return nil
}

func (s *Service) SetAccountName(ctx context.Context, id domain.AccountID, name string) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account by id: %w", err)
	}

	account.Name = name

	if err := s.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("save account name: %w", err)
	}

	return nil
}

func (s *Service) GetAccount(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account by id: %w", err)
	}

	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	return accounts, nil
}

// Credentials resolves the identity and password used for basic auth and the
// session handshake.
func (s *Service) Credentials(ctx context.Context, id domain.AccountID) (Credentials, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return Credentials{}, err
	}
	if account.Email == "" {
		return Credentials{}, fmt.Errorf("account %s: email is empty", id)
	}
	if !account.Auth.Configured() {
		return Credentials{}, fmt.Errorf("account %s: %w", id, domain.ErrSecretNotFound)
	}

	password, err := s.store.Get(ctx, account.Auth.SecretRef)
	if err != nil {
		return Credentials{}, fmt.Errorf("account %s: load password: %w", id, err)
	}

	return Credentials{Email: account.Email, Password: password}, nil
}
