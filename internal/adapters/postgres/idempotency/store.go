package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
)

// Store is a Postgres implementation of idempotency.Store.
type Store struct {
	pool *pgxpool.Pool

	window time.Duration
	clk    clockport.Clock
}

type Option func(*Store)

// WithWindow hides records older than window, measured on clk. Prune deletes them.
func WithWindow(window time.Duration, clk clockport.Clock) Option {
	return func(s *Store) {
		s.window = window
		s.clk = clk
	}
}

func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cutoff is the oldest created_at still inside the window, or nil without one.
func (s *Store) cutoff() *time.Time {
	if s.clk == nil || s.window <= 0 {
		return nil
	}
	c := s.clk.Now().Add(-s.window).UTC()
	return &c
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	if s.pool == nil {
		return idempotency.Record{}, false, errors.New("nil postgres pool")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT status_code, content_type, body, created_at
		FROM idempotency_keys
		WHERE idempotency_key = $1
		  AND provider_user_id = $2
		  AND method = $3
		  AND route = $4
		  AND body_hash = $5
		  AND ($6::timestamptz IS NULL OR created_at >= $6)
	`,
		string(fp.Key),
		string(fp.Subject),
		fp.Method,
		fp.Route,
		fp.BodyHash,
		s.cutoff(),
	)
	var rec idempotency.Record
	if err := row.Scan(&rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (
			idempotency_key,
			provider_user_id,
			method,
			route,
			body_hash,
			status_code,
			content_type,
			body,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (idempotency_key, provider_user_id, method, route, body_hash)
		DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at
	`,
		string(fp.Key),
		string(fp.Subject),
		fp.Method,
		fp.Route,
		fp.BodyHash,
		rec.StatusCode,
		rec.ContentType,
		rec.Body,
		createdAt.UTC(),
	)
	return err
}

// Reserve inserts rec unless a live row holds fp. A row that fell out of the window is
// overwritten in the same statement.
func (s *Store) Reserve(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) (bool, idempotency.Record, error) {
	if s.pool == nil {
		return false, idempotency.Record{}, errors.New("nil postgres pool")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (
			idempotency_key,
			provider_user_id,
			method,
			route,
			body_hash,
			status_code,
			content_type,
			body,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (idempotency_key, provider_user_id, method, route, body_hash)
		DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at
		WHERE $10::timestamptz IS NOT NULL AND idempotency_keys.created_at < $10
	`,
		string(fp.Key),
		string(fp.Subject),
		fp.Method,
		fp.Route,
		fp.BodyHash,
		rec.StatusCode,
		rec.ContentType,
		rec.Body,
		createdAt.UTC(),
		s.cutoff(),
	)
	if err != nil {
		return false, idempotency.Record{}, err
	}
	if tag.RowsAffected() == 1 {
		return true, idempotency.Record{}, nil
	}
	cur, ok, err := s.Get(ctx, fp)
	if err != nil {
		return false, idempotency.Record{}, err
	}
	if !ok {
		return false, idempotency.Record{}, errors.New("idempotency key held by a record that expired mid-reservation")
	}
	return false, cur, nil
}

func (s *Store) Release(ctx context.Context, fp idempotency.Fingerprint) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key = $1
		  AND provider_user_id = $2
		  AND method = $3
		  AND route = $4
		  AND body_hash = $5
	`,
		string(fp.Key),
		string(fp.Subject),
		fp.Method,
		fp.Route,
		fp.BodyHash,
	)
	return err
}

// Prune deletes records that fell out of the window and reports how many were removed.
// Without a window it is a no-op.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	cutoff := s.cutoff()
	if cutoff == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, *cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
