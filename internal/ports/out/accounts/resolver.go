package accounts

import (
	"context"
	"errors"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

var (
	// ErrNotFound indicates the hosting platform has no account with the handle.
	ErrNotFound = errors.New("platform account not found")

	// ErrUnavailable indicates the hosting platform could not answer (transport error,
	// timeout, rate limit, 5xx). Callers must not guess an identity.
	ErrUnavailable = errors.New("platform account lookup unavailable")
)

// Resolver maps a hosting-platform handle to its numeric account id.
type Resolver interface {
	ResolveHandle(ctx context.Context, handle string) (domain.PlatformAccount, error)
}
