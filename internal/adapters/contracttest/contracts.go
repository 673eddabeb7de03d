package contracttest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	memclock "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/clock"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	idempotencyport "github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
	identityrepoport "github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

type CleanupFunc = func()

type IdentityRepoFactory func(t *testing.T) (identityrepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

// WindowedIdemStoreFactory builds a store whose replay window is measured on clk.
type WindowedIdemStoreFactory func(t *testing.T, window time.Duration, clk *memclock.ManualClock) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      idempotencyport.Key("k-" + uuid.NewString()),
		Subject:  domain.ProviderUserID("user_1"),
		Method:   "POST",
		Route:    "/api/create-voucher",
		BodyHash: "hash-abc",
	}

	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}

	rec := idempotencyport.Record{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"voucherId":"v-1"}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != `{"voucherId":"v-1"}` || got.ContentType != "application/json" || got.StatusCode != 200 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A different body hash is a different request.
	other := fp
	other.BodyHash = "hash-other"
	if _, ok, err := store.Get(ctx, other); err != nil || ok {
		t.Fatalf("Get other body: ok=%v err=%v", ok, err)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte(`{"voucherId":"v-2"}`)
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != `{"voucherId":"v-2"}` {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}
}

func RunIdempotencyReserve(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:     idempotencyport.Key("k-" + uuid.NewString()),
		Subject: domain.ProviderUserID("user_1"),
		Method:  "POST",
		Route:   "/api/create-voucher",
	}
	now := time.Unix(1000, 0).UTC()

	// Concurrent reservations of one key have exactly one winner.
	const n = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		errs = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, _, err := store.Reserve(ctx, fp, idempotencyport.Record{ContentType: "text/plain", Body: []byte("hash-a"), CreatedAt: now})
			if err != nil {
				errs <- err
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Reserve: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("Reserve winners=%d want 1", got)
	}

	// Losers see the winner's record.
	won, cur, err := store.Reserve(ctx, fp, idempotencyport.Record{ContentType: "text/plain", Body: []byte("hash-b"), CreatedAt: now})
	if err != nil || won {
		t.Fatalf("Reserve held key: won=%v err=%v", won, err)
	}
	if string(cur.Body) != "hash-a" {
		t.Fatalf("held record body=%q want hash-a", cur.Body)
	}

	// Release frees the key for the next caller.
	if err := store.Release(ctx, fp); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get after Release: ok=%v err=%v", ok, err)
	}
	won, _, err = store.Reserve(ctx, fp, idempotencyport.Record{ContentType: "text/plain", Body: []byte("hash-b"), CreatedAt: now})
	if err != nil || !won {
		t.Fatalf("Reserve after Release: won=%v err=%v", won, err)
	}
}

func RunIdempotencyWindow(t *testing.T, newStore WindowedIdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	clk := memclock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store, cleanup := newStore(t, time.Hour, clk)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      idempotencyport.Key("k-" + uuid.NewString()),
		Subject:  domain.ProviderUserID("user_1"),
		Method:   "POST",
		Route:    "/api/create-voucher",
		BodyHash: "hash-abc",
	}
	rec := idempotencyport.Record{StatusCode: 200, ContentType: "application/json", Body: []byte(`{}`), CreatedAt: clk.Now()}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	clk.Advance(30 * time.Minute)
	if _, ok, err := store.Get(ctx, fp); err != nil || !ok {
		t.Fatalf("Get inside window: ok=%v err=%v", ok, err)
	}

	clk.Advance(31 * time.Minute)
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get after window: ok=%v err=%v", ok, err)
	}

	// An expired reservation can be taken over.
	metaFP := fp
	metaFP.BodyHash = ""
	if won, _, err := store.Reserve(ctx, metaFP, idempotencyport.Record{ContentType: "text/plain", Body: []byte("h1"), CreatedAt: clk.Now()}); err != nil || !won {
		t.Fatalf("Reserve fresh key: won=%v err=%v", won, err)
	}
	clk.Advance(61 * time.Minute)
	if won, _, err := store.Reserve(ctx, metaFP, idempotencyport.Record{ContentType: "text/plain", Body: []byte("h2"), CreatedAt: clk.Now()}); err != nil || !won {
		t.Fatalf("Reserve expired key: won=%v err=%v", won, err)
	}

	// The key is usable again once its window has passed.
	rec.CreatedAt = clk.Now()
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put after window: %v", err)
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || !ok {
		t.Fatalf("Get after re-put: ok=%v err=%v", ok, err)
	}
}

func RunIdentityRepo(t *testing.T, newRepo IdentityRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	id := domain.ProviderUserID("user_" + uuid.NewString())
	// Platform ids are unique across identities, so shared databases need a fresh one per run.
	platformID := domain.PlatformUserIDFromUint(uint64(uuid.New().ID()) + 1)
	otherPlatformID := domain.PlatformUserIDFromUint(uint64(uuid.New().ID()) + 1<<33)

	if _, err := repo.Get(ctx, id); !errors.Is(err, identityrepoport.ErrNotFound) {
		t.Fatalf("Get missing: err=%v, want ErrNotFound", err)
	}

	// First sight creates the record without a platform id.
	rec, err := repo.Ensure(ctx, identityrepoport.Record{
		ProviderUserID: id,
		Handle:         "alice",
		WalletAddress:  "ignored-by-ensure",
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("Ensure create: %v", err)
	}
	if rec.Handle != "alice" || !rec.PlatformUserID.IsZero() {
		t.Fatalf("unexpected created record: %+v", rec)
	}
	if rec.WalletAddress != "" {
		t.Fatalf("Ensure must never write the wallet, got %q", rec.WalletAddress)
	}

	// Platform id is filled once.
	later := now.Add(time.Minute)
	rec, err = repo.Ensure(ctx, identityrepoport.Record{
		ProviderUserID: id,
		Handle:         "alice",
		PlatformUserID: platformID,
		CreatedAt:      later,
		UpdatedAt:      later,
	})
	if err != nil {
		t.Fatalf("Ensure link platform: %v", err)
	}
	if rec.PlatformUserID != platformID {
		t.Fatalf("platform id=%q want %q", rec.PlatformUserID, platformID)
	}

	// ...and is immutable afterwards.
	if _, err := repo.Ensure(ctx, identityrepoport.Record{
		ProviderUserID: id,
		Handle:         "alice",
		PlatformUserID: otherPlatformID,
		CreatedAt:      later,
		UpdatedAt:      later,
	}); !errors.Is(err, identityrepoport.ErrPlatformIDConflict) {
		t.Fatalf("Ensure conflicting platform id: err=%v, want ErrPlatformIDConflict", err)
	}

	// Wallet linking and idempotent relink.
	if err := repo.SetWallet(ctx, id, "WalletAAA", later); err != nil {
		t.Fatalf("SetWallet: %v", err)
	}
	if err := repo.SetWallet(ctx, id, "WalletAAA", later.Add(time.Minute)); err != nil {
		t.Fatalf("SetWallet relink: %v", err)
	}
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WalletAddress != "WalletAAA" || got.PlatformUserID != platformID {
		t.Fatalf("unexpected record after link: %+v", got)
	}

	// Ensure after linking keeps the wallet and refreshes the handle.
	got, err = repo.Ensure(ctx, identityrepoport.Record{
		ProviderUserID: id,
		Handle:         "alice-renamed",
		CreatedAt:      later,
		UpdatedAt:      later,
	})
	if err != nil {
		t.Fatalf("Ensure rename: %v", err)
	}
	if got.WalletAddress != "WalletAAA" || got.Handle != "alice-renamed" {
		t.Fatalf("unexpected record after rename: %+v", got)
	}

	// Overwrite with a different wallet.
	if err := repo.SetWallet(ctx, id, "WalletBBB", later); err != nil {
		t.Fatalf("SetWallet overwrite: %v", err)
	}
	got, err = repo.Get(ctx, id)
	if err != nil || got.WalletAddress != "WalletBBB" {
		t.Fatalf("overwrite: rec=%+v err=%v", got, err)
	}

	if err := repo.SetWallet(ctx, domain.ProviderUserID("user_missing_"+uuid.NewString()), "W", later); !errors.Is(err, identityrepoport.ErrNotFound) {
		t.Fatalf("SetWallet missing: err=%v, want ErrNotFound", err)
	}
}
