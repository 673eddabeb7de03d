package identityrepo

import (
	"context"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

// Record is the persisted identity metadata owned by the identity provider.
type Record struct {
	ProviderUserID domain.ProviderUserID
	Handle         string
	// PlatformUserID is empty until linked; immutable afterwards.
	PlatformUserID domain.PlatformUserID
	// WalletAddress is empty until a wallet link succeeds.
	WalletAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository provides access to identity records.
//
// Write rules:
//   - Ensure creates a record on first sight, fills an empty PlatformUserID and refreshes the
//     handle. It never writes WalletAddress and returns ErrPlatformIDConflict rather than
//     replacing a platform id that is already set.
//   - SetWallet is reserved for the wallet-link verifier.
type Repository interface {
	Get(ctx context.Context, id domain.ProviderUserID) (Record, error)
	Ensure(ctx context.Context, seed Record) (Record, error)
	SetWallet(ctx context.Context, id domain.ProviderUserID, address string, at time.Time) error
}
