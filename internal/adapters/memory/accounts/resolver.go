package accounts

import (
	"context"
	"strings"
	"sync"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/accounts"
)

// Resolver is an in-memory accounts.Resolver keyed by case-insensitive login.
type Resolver struct {
	mu      sync.RWMutex
	byLogin map[string]domain.PlatformAccount

	// Calls counts ResolveHandle invocations.
	Calls int
	// Err, when set, is returned by every lookup.
	Err error
}

func NewResolver() *Resolver {
	return &Resolver{byLogin: make(map[string]domain.PlatformAccount)}
}

func (r *Resolver) Add(login string, id domain.PlatformUserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLogin[strings.ToLower(login)] = domain.PlatformAccount{Login: login, ID: id}
}

func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (domain.PlatformAccount, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return domain.PlatformAccount{}, r.Err
	}
	acct, ok := r.byLogin[strings.ToLower(handle)]
	if !ok {
		return domain.PlatformAccount{}, accounts.ErrNotFound
	}
	return acct, nil
}
