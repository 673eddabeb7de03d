package identityrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

// Repo is a Postgres implementation of identityrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectColumns = `provider_user_id, handle, platform_user_id, wallet_address, created_at, updated_at`

func (r *Repo) Get(ctx context.Context, id domain.ProviderUserID) (identityrepo.Record, error) {
	if r.pool == nil {
		return identityrepo.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM identities WHERE provider_user_id = $1`, string(id))
	return scanRecord(row)
}

func (r *Repo) Ensure(ctx context.Context, seed identityrepo.Record) (identityrepo.Record, error) {
	if r.pool == nil {
		return identityrepo.Record{}, errors.New("nil postgres pool")
	}
	updatedAt := seed.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = seed.CreatedAt
	}

	var out identityrepo.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO identities (provider_user_id, handle, platform_user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider_user_id) DO NOTHING
		`,
			string(seed.ProviderUserID),
			seed.Handle,
			nullablePlatformID(seed.PlatformUserID),
			seed.CreatedAt.UTC(),
			updatedAt.UTC(),
		)
		if err != nil {
			return mapWriteError(err)
		}

		existing, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+selectColumns+` FROM identities WHERE provider_user_id = $1 FOR UPDATE`,
			string(seed.ProviderUserID),
		))
		if err != nil {
			return err
		}

		changed := false
		if !seed.PlatformUserID.IsZero() {
			switch {
			case existing.PlatformUserID.IsZero():
				existing.PlatformUserID = seed.PlatformUserID
				changed = true
			case existing.PlatformUserID != seed.PlatformUserID:
				return identityrepo.ErrPlatformIDConflict
			}
		}
		if seed.Handle != "" && seed.Handle != existing.Handle {
			existing.Handle = seed.Handle
			changed = true
		}
		if changed {
			existing.UpdatedAt = updatedAt.UTC()
			if _, err := tx.Exec(ctx, `
				UPDATE identities
				SET handle = $2,
				    platform_user_id = $3,
				    updated_at = $4
				WHERE provider_user_id = $1
			`,
				string(existing.ProviderUserID),
				existing.Handle,
				nullablePlatformID(existing.PlatformUserID),
				existing.UpdatedAt,
			); err != nil {
				return mapWriteError(err)
			}
		}
		out = existing
		return nil
	})
	if err != nil {
		return identityrepo.Record{}, err
	}
	return out, nil
}

func (r *Repo) SetWallet(ctx context.Context, id domain.ProviderUserID, address string, at time.Time) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	// Relinking the same address leaves updated_at untouched.
	ct, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET wallet_address = $2,
		    updated_at = CASE WHEN wallet_address IS DISTINCT FROM $2 THEN $3 ELSE updated_at END
		WHERE provider_user_id = $1
	`, string(id), address, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return identityrepo.ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (identityrepo.Record, error) {
	var (
		rec        identityrepo.Record
		providerID string
		platformID *string
		wallet     *string
	)
	if err := row.Scan(&providerID, &rec.Handle, &platformID, &wallet, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identityrepo.Record{}, identityrepo.ErrNotFound
		}
		return identityrepo.Record{}, err
	}
	rec.ProviderUserID = domain.ProviderUserID(providerID)
	if platformID != nil {
		rec.PlatformUserID = domain.PlatformUserID(*platformID)
	}
	if wallet != nil {
		rec.WalletAddress = *wallet
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func nullablePlatformID(id domain.PlatformUserID) *string {
	if id.IsZero() {
		return nil
	}
	s := string(id)
	return &s
}

func mapWriteError(err error) error {
	if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
		if pe.ConstraintName == "identities_platform_user_id_unique" {
			// Another identity already holds this platform account.
			return identityrepo.ErrPlatformIDConflict
		}
	}
	return err
}
