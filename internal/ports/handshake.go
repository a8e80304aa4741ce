package ports

import (
	"context"

	"github.com/bnema/umeng-cli/internal/domain"
)

// Handshaker performs the external login sequence that yields a session token.
type Handshaker interface {
	Login(ctx context.Context, identity string, secret string) (domain.SessionTokenRecord, error)
}
