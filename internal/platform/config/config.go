package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendClerk    = "clerk"
	BackendRPC      = "rpc"
)

// ServerConfig is the process-level configuration of cmd/api.
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// AuthMode is "jwt" (verify identity-provider sessions) or "dev" (X-Debug-* headers).
	AuthMode string `env:"AUTH_MODE" envDefault:"jwt"`

	// StorageBackend selects the idempotency store and, unless DirectoryBackend is set,
	// the identity directory.
	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DirectoryBackend string `env:"DIRECTORY_BACKEND"`
	LedgerBackend    string `env:"LEDGER_BACKEND" envDefault:"rpc"`
	DatabaseURL      string `env:"DATABASE_URL"`

	// IdempotencyWindow bounds how long a create-voucher response is replayed for its key.
	// Zero keeps records forever.
	IdempotencyWindow time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"24h"`

	// FrontendURL is the first-party web app; claim links point at it.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
}

// EffectiveDirectoryBackend returns the identity directory backend.
func (c ServerConfig) EffectiveDirectoryBackend() string {
	if c.DirectoryBackend != "" {
		return c.DirectoryBackend
	}
	return c.StorageBackend
}

func LoadServerConfigFromEnv() (ServerConfig, error) {
	cfg, err := env.ParseAs[ServerConfig]()
	if err != nil {
		return ServerConfig{}, fmt.Errorf("parse server env: %w", err)
	}
	switch cfg.AuthMode {
	case AuthModeJWT, AuthModeDev:
	default:
		return ServerConfig{}, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeJWT, AuthModeDev, cfg.AuthMode)
	}
	switch cfg.StorageBackend {
	case BackendMemory, BackendPostgres:
	default:
		return ServerConfig{}, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, cfg.StorageBackend)
	}
	switch cfg.EffectiveDirectoryBackend() {
	case BackendMemory, BackendPostgres, BackendClerk:
	default:
		return ServerConfig{}, fmt.Errorf("DIRECTORY_BACKEND must be one of memory, postgres, clerk, got %q", cfg.DirectoryBackend)
	}
	switch cfg.LedgerBackend {
	case BackendMemory, BackendRPC:
	default:
		return ServerConfig{}, fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendMemory, BackendRPC, cfg.LedgerBackend)
	}
	usesPostgres := cfg.StorageBackend == BackendPostgres || cfg.EffectiveDirectoryBackend() == BackendPostgres
	if usesPostgres && cfg.DatabaseURL == "" {
		return ServerConfig{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.IdempotencyWindow < 0 {
		return ServerConfig{}, fmt.Errorf("IDEMPOTENCY_WINDOW must not be negative")
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return cfg, nil
}

// JWTConfig configures session verification against the identity provider's JWKS endpoint.
type JWTConfig struct {
	Issuer string `env:"JWT_ISSUER"`
	// Audience is optional; the identity provider's session tokens often carry none.
	Audience string `env:"JWT_AUDIENCE"`
	JWKSURL  string `env:"JWT_JWKS_URL"`

	ClockSkew time.Duration `env:"JWT_CLOCK_SKEW" envDefault:"30s"`
	// Refresh periodically to pick up key rotation even if an old key is still cached.
	JWKSRefreshInterval time.Duration `env:"JWT_JWKS_REFRESH_INTERVAL" envDefault:"5m"`
	// Bound refresh frequency when a token presents an unknown kid.
	JWKSMinRefreshInterval time.Duration `env:"JWT_JWKS_MIN_REFRESH_INTERVAL" envDefault:"10s"`

	HTTPTimeout time.Duration `env:"JWT_HTTP_TIMEOUT" envDefault:"5s"`
}

func LoadJWTConfigFromEnv() (JWTConfig, error) {
	cfg, err := env.ParseAs[JWTConfig]()
	if err != nil {
		return JWTConfig{}, fmt.Errorf("parse jwt env: %w", err)
	}
	if cfg.Issuer == "" || cfg.JWKSURL == "" {
		return JWTConfig{}, fmt.Errorf("missing required env vars: JWT_ISSUER, JWT_JWKS_URL")
	}
	return cfg, nil
}

// DevAuthConfig supplies the identity used when no X-Debug-* headers are sent in dev mode.
type DevAuthConfig struct {
	Subject    string `env:"DEV_SUBJECT" envDefault:"dev|local"`
	Handle     string `env:"DEV_HANDLE"`
	PlatformID string `env:"DEV_PLATFORM_ID"`
}

func LoadDevAuthConfigFromEnv() (DevAuthConfig, error) {
	cfg, err := env.ParseAs[DevAuthConfig]()
	if err != nil {
		return DevAuthConfig{}, fmt.Errorf("parse dev auth env: %w", err)
	}
	return cfg, nil
}

// GitHubConfig configures the hosting-platform account resolver.
type GitHubConfig struct {
	BaseURL    string        `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	Token      string        `env:"GITHUB_TOKEN"`
	APIVersion string        `env:"GITHUB_API_VERSION" envDefault:"2022-11-28"`
	Timeout    time.Duration `env:"GITHUB_TIMEOUT" envDefault:"5s"`
}

func LoadGitHubConfigFromEnv() (GitHubConfig, error) {
	cfg, err := env.ParseAs[GitHubConfig]()
	if err != nil {
		return GitHubConfig{}, fmt.Errorf("parse github env: %w", err)
	}
	if cfg.Timeout <= 0 {
		return GitHubConfig{}, fmt.Errorf("GITHUB_TIMEOUT must be positive")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// LedgerConfig configures the ledger RPC reader and address derivation.
type LedgerConfig struct {
	RPCURL     string        `env:"SOLANA_RPC_URL" envDefault:"https://api.devnet.solana.com"`
	ProgramID  string        `env:"VOUCHER_PROGRAM_ID" envDefault:"8iRpzhFJF4PJnhyKZRDXk6B3TKjxQGEX6kcsteYq77iR"`
	Commitment string        `env:"SOLANA_COMMITMENT" envDefault:"confirmed"`
	Timeout    time.Duration `env:"SOLANA_RPC_TIMEOUT" envDefault:"10s"`
}

func LoadLedgerConfigFromEnv() (LedgerConfig, error) {
	cfg, err := env.ParseAs[LedgerConfig]()
	if err != nil {
		return LedgerConfig{}, fmt.Errorf("parse ledger env: %w", err)
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return LedgerConfig{}, fmt.Errorf("SOLANA_COMMITMENT must be processed, confirmed or finalized, got %q", cfg.Commitment)
	}
	if cfg.ProgramID == "" {
		return LedgerConfig{}, fmt.Errorf("VOUCHER_PROGRAM_ID is required")
	}
	return cfg, nil
}

// TokenConfig configures portable identity tokens.
type TokenConfig struct {
	// Secret switches from the plain codec to HS256-signed tokens when set.
	Secret string `env:"PORTABLE_TOKEN_SECRET"`
	// TTL sets the exp claim of signed tokens; zero issues tokens without expiry.
	TTL time.Duration `env:"PORTABLE_TOKEN_TTL" envDefault:"0s"`
	// MaxAge rejects tokens whose issuedAt is older; zero disables the check.
	MaxAge time.Duration `env:"PORTABLE_TOKEN_MAX_AGE" envDefault:"0s"`
	// CrossCheck re-reads the identity directory and rejects tokens whose claims disagree with it.
	CrossCheck bool `env:"PORTABLE_TOKEN_CROSS_CHECK" envDefault:"false"`
}

func LoadTokenConfigFromEnv() (TokenConfig, error) {
	cfg, err := env.ParseAs[TokenConfig]()
	if err != nil {
		return TokenConfig{}, fmt.Errorf("parse token env: %w", err)
	}
	if cfg.TTL < 0 || cfg.MaxAge < 0 {
		return TokenConfig{}, fmt.Errorf("PORTABLE_TOKEN_TTL and PORTABLE_TOKEN_MAX_AGE must not be negative")
	}
	if cfg.Secret != "" && len(cfg.Secret) < 32 {
		return TokenConfig{}, fmt.Errorf("PORTABLE_TOKEN_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

// OriginConfig configures the cross-origin allow-list.
type OriginConfig struct {
	ExtensionPrefixes []string `env:"ORIGIN_EXTENSION_PREFIXES" envSeparator:"," envDefault:"chrome-extension://"`
	PlatformOrigins   []string `env:"ORIGIN_PLATFORM_ORIGINS" envSeparator:"," envDefault:"https://github.com"`
	AppOrigins        []string `env:"ORIGIN_APP_ORIGINS" envSeparator:","`
	DevOrigins        []string `env:"ORIGIN_DEV_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

// LoadOriginConfigFromEnv loads the allow-list; frontendURL is always an app origin.
func LoadOriginConfigFromEnv(frontendURL string) (OriginConfig, error) {
	cfg, err := env.ParseAs[OriginConfig]()
	if err != nil {
		return OriginConfig{}, fmt.Errorf("parse origin env: %w", err)
	}
	if frontendURL != "" {
		cfg.AppOrigins = append(cfg.AppOrigins, strings.TrimRight(frontendURL, "/"))
	}
	return cfg, nil
}

// ClerkConfig configures the identity provider's backend user API.
type ClerkConfig struct {
	BaseURL   string        `env:"CLERK_API_URL" envDefault:"https://api.clerk.com"`
	SecretKey string        `env:"CLERK_SECRET_KEY"`
	Timeout   time.Duration `env:"CLERK_TIMEOUT" envDefault:"5s"`
}

func LoadClerkConfigFromEnv() (ClerkConfig, error) {
	cfg, err := env.ParseAs[ClerkConfig]()
	if err != nil {
		return ClerkConfig{}, fmt.Errorf("parse clerk env: %w", err)
	}
	if cfg.SecretKey == "" {
		return ClerkConfig{}, fmt.Errorf("CLERK_SECRET_KEY is required for the clerk directory backend")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// OTelConfig configures tracing export. Tracing is off when Endpoint is empty.
type OTelConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"voucher-bridge"`
}

func LoadOTelConfigFromEnv() (OTelConfig, error) {
	cfg, err := env.ParseAs[OTelConfig]()
	if err != nil {
		return OTelConfig{}, fmt.Errorf("parse otel env: %w", err)
	}
	return cfg, nil
}
