package toml

import (
	"fmt"
	"strings"

	"github.com/bnema/umeng-cli/internal/domain"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID    string     `toml:"id"`
	Name  string     `toml:"name"`
	Email string     `toml:"email"`
	Auth  authSchema `toml:"auth"`
}

type authSchema struct {
	SecretRef string `toml:"secret_ref"`
}

func toSchema(account domain.Account) accountSchema {
	return accountSchema{
		ID:    string(account.ID),
		Name:  account.Name,
		Email: account.Email,
		Auth:  authSchema{SecretRef: account.Auth.SecretRef},
	}
}

func fromSchema(account accountSchema) domain.Account {
	return domain.Account{
		ID:    domain.AccountID(account.ID),
		Name:  account.Name,
		Email: account.Email,
		Auth:  domain.Auth{SecretRef: account.Auth.SecretRef},
	}
}

// registry is a decoded accounts document indexed by account ID.
type registry struct {
	doc  fileSchema
	byID map[string]int
}

func newRegistry(doc fileSchema) *registry {
	doc.applyDefaults()

	reg := &registry{doc: doc, byID: make(map[string]int, len(doc.Accounts))}
	for i, entry := range doc.Accounts {
		reg.byID[entry.ID] = i
	}

	return reg
}

func (r *registry) get(id domain.AccountID) (domain.Account, bool) {
	i, ok := r.byID[string(id)]
	if !ok {
		return domain.Account{}, false
	}

	return fromSchema(r.doc.Accounts[i]), true
}

func (r *registry) accounts() []domain.Account {
	out := make([]domain.Account, 0, len(r.doc.Accounts))
	for _, entry := range r.doc.Accounts {
		out = append(out, fromSchema(entry))
	}

	return out
}

// put replaces the entry with the same ID in place or appends a new one.
func (r *registry) put(account domain.Account) error {
	entry := toSchema(account)

	if owner, taken := r.emailOwner(entry.Email); taken && owner != entry.ID {
		return fmt.Errorf("%w: %s is registered to account %s", domain.ErrEmailInUse, entry.Email, owner)
	}

	if i, ok := r.byID[entry.ID]; ok {
		r.doc.Accounts[i] = entry
		return nil
	}

	r.byID[entry.ID] = len(r.doc.Accounts)
	r.doc.Accounts = append(r.doc.Accounts, entry)
	return nil
}

// emailOwner matches emails case-insensitively; an empty email has no owner.
func (r *registry) emailOwner(email string) (string, bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", false
	}

	for _, entry := range r.doc.Accounts {
		if strings.EqualFold(strings.TrimSpace(entry.Email), email) {
			return entry.ID, true
		}
	}

	return "", false
}
