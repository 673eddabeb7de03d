package ledger

import (
	"context"
	"errors"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

var (
	// ErrNotFound indicates the account does not exist or is not yet visible at the
	// configured commitment.
	ErrNotFound = errors.New("ledger account not found")

	// ErrUnavailable indicates the ledger node could not be reached.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrMalformedAccount indicates account data that does not decode as a voucher.
	ErrMalformedAccount = errors.New("ledger account data is not a voucher")
)

// Reader is the read-only view of the ledger program's voucher accounts.
// Value-moving transactions are always signed and submitted by the end user's wallet.
type Reader interface {
	GetVoucher(ctx context.Context, address domain.Address) (domain.VoucherRecord, error)
	ListVouchers(ctx context.Context) ([]domain.VoucherRecord, error)
}
