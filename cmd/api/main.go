package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghvoucher/voucher-bridge/internal/adapters/clerk"
	"github.com/ghvoucher/voucher-bridge/internal/adapters/github"
	"github.com/ghvoucher/voucher-bridge/internal/adapters/httpapi"
	memidempotency "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/idempotency"
	memidentityrepo "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/identityrepo"
	memledger "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/ledger"
	postgres "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres"
	pgidempotency "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/idempotency"
	pgidentityrepo "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/identityrepo"
	"github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/migrations"
	"github.com/ghvoucher/voucher-bridge/internal/adapters/solanarpc"
	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/identity"
	"github.com/ghvoucher/voucher-bridge/internal/app/vouchers"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/auth/sessionverifier"
	platformclock "github.com/ghvoucher/voucher-bridge/internal/platform/clock"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/platform/logging"
	"github.com/ghvoucher/voucher-bridge/internal/platform/origin"
	"github.com/ghvoucher/voucher-bridge/internal/platform/otel"
	idempotencyport "github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
	identityrepoport "github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
	ledgerport "github.com/ghvoucher/voucher-bridge/internal/ports/out/ledger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg, err := config.LoadOTelConfigFromEnv()
	if err != nil {
		return err
	}
	shutdownTracing, err := otel.Setup(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Auth configuration:
	// - Production: verify the identity provider's session JWTs against its JWKS
	// - Local dev: set AUTH_MODE=dev to use X-Debug-* headers instead
	var authMW func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthModeDev:
		devCfg, err := config.LoadDevAuthConfigFromEnv()
		if err != nil {
			return err
		}
		logger.Warn("dev auth enabled; sessions are taken from X-Debug-* headers")
		authMW = httpapi.NewDevAuthMiddleware(devCfg)
	default:
		jwtCfg, err := config.LoadJWTConfigFromEnv()
		if err != nil {
			return fmt.Errorf("invalid auth config: %w", err)
		}
		authMW = httpapi.NewAuthMiddleware(sessionverifier.New(jwtCfg))
	}

	clk := platformclock.NewSystemClock()

	var pool *pgxpool.Pool
	if cfg.StorageBackend == config.BackendPostgres || cfg.EffectiveDirectoryBackend() == config.BackendPostgres {
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var idemStore idempotencyport.Store
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pgStore := pgidempotency.NewStore(pool, pgidempotency.WithWindow(cfg.IdempotencyWindow, clk))
		go pruneIdempotencyKeys(ctx, pgStore, cfg.IdempotencyWindow, logger)
		idemStore = pgStore
	default:
		idemStore = memidempotency.NewStore(memidempotency.WithWindow(cfg.IdempotencyWindow, clk))
	}

	var directory identityrepoport.Repository
	switch cfg.EffectiveDirectoryBackend() {
	case config.BackendPostgres:
		directory = pgidentityrepo.NewRepo(pool)
	case config.BackendClerk:
		clerkCfg, err := config.LoadClerkConfigFromEnv()
		if err != nil {
			return err
		}
		directory = clerk.NewDirectory(clerkCfg, nil, logger)
	default:
		directory = memidentityrepo.NewRepo()
	}

	ledgerCfg, err := config.LoadLedgerConfigFromEnv()
	if err != nil {
		return err
	}
	programID, err := domain.ParseAddress(ledgerCfg.ProgramID)
	if err != nil {
		return fmt.Errorf("VOUCHER_PROGRAM_ID: %w", err)
	}
	var reader ledgerport.Reader
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		logger.Warn("memory ledger enabled; no voucher will ever be visible")
		reader = memledger.NewLedger()
	default:
		rpc, err := solanarpc.NewClient(ledgerCfg, nil, logger)
		if err != nil {
			return err
		}
		reader = rpc
	}

	githubCfg, err := config.LoadGitHubConfigFromEnv()
	if err != nil {
		return err
	}
	resolver, err := github.NewResolver(githubCfg, nil, logger)
	if err != nil {
		return err
	}

	tokenCfg, err := config.LoadTokenConfigFromEnv()
	if err != nil {
		return err
	}
	var codec identity.Codec = identity.PlainCodec{}
	if tokenCfg.Secret != "" {
		codec = identity.NewSignedCodec([]byte(tokenCfg.Secret), tokenCfg.TTL, clk)
	}
	identitySvc := identity.NewService(directory, codec, clk, logger)
	identitySvc.MaxTokenAge = tokenCfg.MaxAge
	identitySvc.CrossCheck = tokenCfg.CrossCheck

	voucherSvc := vouchers.NewService(resolver, reader, addressing.NewDeriver(programID), vouchers.NewIDGenerator(clk, nil), clk, logger)
	voucherSvc.FrontendURL = cfg.FrontendURL

	originCfg, err := config.LoadOriginConfigFromEnv(cfg.FrontendURL)
	if err != nil {
		return err
	}

	api := httpapi.NewServer(identitySvc, voucherSvc, idemStore, clk, logger)
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AuthMiddleware: authMW,
		Origins:        origin.FromConfig(originCfg),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			"port", cfg.Port,
			"authMode", cfg.AuthMode,
			"storage", cfg.StorageBackend,
			"directory", cfg.EffectiveDirectoryBackend(),
			"ledger", cfg.LedgerBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pruneIdempotencyKeys deletes expired replay records a few times per window until ctx ends.
func pruneIdempotencyKeys(ctx context.Context, store *pgidempotency.Store, window time.Duration, logger *slog.Logger) {
	if window <= 0 {
		return
	}
	ticker := time.NewTicker(max(window/4, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx)
			if err != nil {
				logger.Warn("prune idempotency keys", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("pruned idempotency keys", "count", n)
			}
		}
	}
}
