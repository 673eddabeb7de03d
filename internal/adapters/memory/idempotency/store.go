package idempotency

import (
	"context"
	"sync"
	"time"

	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
)

// Store is an in-memory idempotency.Store for dev and tests.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	m  map[idempotency.Fingerprint]idempotency.Record

	window time.Duration
	clk    clockport.Clock
}

type Option func(*Store)

// WithWindow expires records older than window, measured on clk. Expired records are
// dropped on the next Put.
func WithWindow(window time.Duration, clk clockport.Clock) Option {
	return func(s *Store) {
		s.window = window
		s.clk = clk
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		m: make(map[idempotency.Fingerprint]idempotency.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[fp]
	if !ok || s.expired(rec) {
		return idempotency.Record{}, false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, old := range s.m {
		if s.expired(old) {
			delete(s.m, k)
		}
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.m[fp] = rec
	return nil
}

func (s *Store) Reserve(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) (bool, idempotency.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[fp]; ok && !s.expired(cur) {
		cur.Body = append([]byte(nil), cur.Body...)
		return false, cur, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.m[fp] = rec
	return true, idempotency.Record{}, nil
}

func (s *Store) Release(ctx context.Context, fp idempotency.Fingerprint) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, fp)
	return nil
}

// Len reports how many records are held, expired or not.
// It is a test hook for observing pruning; nothing in the request path calls it.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) expired(rec idempotency.Record) bool {
	return s.clk != nil && rec.Expired(s.clk.Now(), s.window)
}
