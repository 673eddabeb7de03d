package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ghvoucher/voucher-bridge/internal/platform/auth/jwks_testutil"
	"github.com/ghvoucher/voucher-bridge/internal/platform/logging"
)

// Tiny dev-only identity provider: session JWT issuer + JWKS server.
//
// This is NOT a full OIDC provider. It exists to support local development against
// real RS256 session verification (iss/aud/exp + JWKS) with the username and github_id
// claims the API reads.

type devConfig struct {
	Port     string        `env:"PORT" envDefault:"5556"`
	Issuer   string        `env:"ISSUER" envDefault:"http://devidp:5556"`
	Audience string        `env:"AUDIENCE"`
	Kid      string        `env:"KID" envDefault:"dev-kid-1"`
	TTL      time.Duration `env:"TTL" envDefault:"30m"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	cfg, err := env.ParseAs[devConfig]()
	if err != nil {
		slog.Error("parse env", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	kp, err := jwks_testutil.GenerateRSAKeypair(cfg.Kid)
	if err != nil {
		logger.Error("generate key", "err", err)
		os.Exit(1)
	}
	jwksJSON := jwks_testutil.JWKSJSON([]jwks_testutil.Keypair{kp})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Common JWKS path used by many providers.
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(jwksJSON)
	})

	// Mint a session:
	//   GET /token?sub=user_alice&username=alice&github_id=42
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sub := strings.TrimSpace(q.Get("sub"))
		if sub == "" {
			http.Error(w, "missing sub", http.StatusBadRequest)
			return
		}
		sess := jwks_testutil.Session{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
			Subject:  sub,
			Username: strings.TrimSpace(q.Get("username")),
		}
		if raw := strings.TrimSpace(q.Get("github_id")); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				http.Error(w, "github_id must be a positive integer", http.StatusBadRequest)
				return
			}
			sess.GitHubID = id
		}

		now := time.Now().UTC()
		skew := -5 * time.Second
		token, err := jwks_testutil.MintSessionJWT(kp, sess, now, cfg.TTL, &skew)
		if err != nil {
			http.Error(w, "failed to mint token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": token,
			"sub":   sub,
			"iss":   cfg.Issuer,
			"exp":   now.Add(cfg.TTL).Unix(),
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("devidp listening", "port", cfg.Port, "iss", cfg.Issuer, "kid", cfg.Kid, "ttl", cfg.TTL)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
}
