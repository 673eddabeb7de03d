package identityrepo

import (
	"context"
	"sync"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

// Repo is an in-memory implementation of identityrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu   sync.RWMutex
	byID map[domain.ProviderUserID]identityrepo.Record
}

func NewRepo() *Repo {
	return &Repo{
		byID: make(map[domain.ProviderUserID]identityrepo.Record),
	}
}

func (r *Repo) Get(ctx context.Context, id domain.ProviderUserID) (identityrepo.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return identityrepo.Record{}, identityrepo.ErrNotFound
	}
	return rec, nil
}

func (r *Repo) Ensure(ctx context.Context, seed identityrepo.Record) (identityrepo.Record, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[seed.ProviderUserID]
	if !ok {
		rec := seed
		rec.WalletAddress = ""
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		r.byID[seed.ProviderUserID] = rec
		return rec, nil
	}

	changed := false
	if !seed.PlatformUserID.IsZero() {
		switch {
		case existing.PlatformUserID.IsZero():
			existing.PlatformUserID = seed.PlatformUserID
			changed = true
		case existing.PlatformUserID != seed.PlatformUserID:
			return identityrepo.Record{}, identityrepo.ErrPlatformIDConflict
		}
	}
	if seed.Handle != "" && seed.Handle != existing.Handle {
		existing.Handle = seed.Handle
		changed = true
	}
	if changed {
		existing.UpdatedAt = seed.UpdatedAt
		r.byID[seed.ProviderUserID] = existing
	}
	return existing, nil
}

func (r *Repo) SetWallet(ctx context.Context, id domain.ProviderUserID, address string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return identityrepo.ErrNotFound
	}
	if rec.WalletAddress == address {
		return nil
	}
	rec.WalletAddress = address
	rec.UpdatedAt = at
	r.byID[id] = rec
	return nil
}
