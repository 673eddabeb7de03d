package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/ledger"
)

// Ledger is an in-memory ledger.Reader. Tests and local runs seed it with Put to stand in
// for confirmed on-ledger voucher accounts. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	vouchers map[domain.Address]domain.VoucherRecord

	// Unavailable makes every read fail with ledger.ErrUnavailable.
	Unavailable bool
}

func NewLedger() *Ledger {
	return &Ledger{vouchers: make(map[domain.Address]domain.VoucherRecord)}
}

func (l *Ledger) Put(v domain.VoucherRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vouchers[v.Address] = v
}

func (l *Ledger) GetVoucher(ctx context.Context, address domain.Address) (domain.VoucherRecord, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Unavailable {
		return domain.VoucherRecord{}, ledger.ErrUnavailable
	}
	v, ok := l.vouchers[address]
	if !ok {
		return domain.VoucherRecord{}, ledger.ErrNotFound
	}
	return v, nil
}

func (l *Ledger) ListVouchers(ctx context.Context) ([]domain.VoucherRecord, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Unavailable {
		return nil, ledger.ErrUnavailable
	}
	out := make([]domain.VoucherRecord, 0, len(l.vouchers))
	for _, v := range l.vouchers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoucherID < out[j].VoucherID })
	return out, nil
}
