package idempotency

import (
	"context"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

// Key is the caller-provided idempotency key (Idempotency-Key header).
type Key string

// Fingerprint identifies one logical request: key + caller + method + route + body hash.
// The create-voucher handler also stores a body-less fingerprint to detect key reuse.
type Fingerprint struct {
	Key      Key
	Subject  domain.ProviderUserID
	Method   string
	Route    string
	BodyHash string
}

// Record is a stored response replayed for a duplicate request.
type Record struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// Expired reports whether the record fell out of a replay window ending at now.
// A zero window never expires.
func (r Record) Expired(now time.Time, window time.Duration) bool {
	return window > 0 && r.CreatedAt.Before(now.Add(-window))
}

// Store persists idempotency records. Records older than the store's replay window read as
// absent, so a key may be reused once its window has passed.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (Record, bool, error)
	Put(ctx context.Context, fp Fingerprint, rec Record) error

	// Reserve stores rec under fp only if no live record exists, atomically with respect to
	// other Reserve calls. It reports whether this call won; on a loss it returns the live
	// record that holds fp.
	Reserve(ctx context.Context, fp Fingerprint, rec Record) (bool, Record, error)

	// Release deletes fp so a failed request can be retried under the same key.
	Release(ctx context.Context, fp Fingerprint) error
}
