// Package github resolves GitHub logins to numeric account ids over the REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/accounts"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Resolver implements accounts.Resolver with GET /users/{login}.
//
// Lookups are bounded by the configured timeout and never retried: a failed lookup aborts
// the caller's operation instead of guessing an identity.
type Resolver struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewResolver builds a resolver. A nil httpClient gets one with cfg.Timeout.
func NewResolver(cfg config.GitHubConfig, httpClient *http.Client, logger *slog.Logger) (*Resolver, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("github: invalid base URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2022-11-28"
	}
	return &Resolver{
		baseURL:    baseURL,
		token:      cfg.Token,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     logger,
		tracer:     otel.Tracer("github.com/ghvoucher/voucher-bridge/internal/adapters/github"),
	}, nil
}

type user struct {
	Login string      `json:"login"`
	ID    json.Number `json:"id"`
}

func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (_ domain.PlatformAccount, err error) {
	ctx, span := r.tracer.Start(ctx, "github.ResolveHandle", trace.WithAttributes(attribute.String("github.login", handle)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	login, err := domain.NormalizeHandle(handle)
	if err != nil {
		return domain.PlatformAccount{}, accounts.ErrNotFound
	}

	var u user
	if err := r.get(ctx, "/users/"+url.PathEscape(login), &u); err != nil {
		if IsNotFound(err) {
			return domain.PlatformAccount{}, accounts.ErrNotFound
		}
		if IsRateLimited(err) {
			r.logger.WarnContext(ctx, "github rate limited", "login", login)
		}
		return domain.PlatformAccount{}, fmt.Errorf("%w: %v", accounts.ErrUnavailable, err)
	}

	id, err := domain.ParsePlatformUserID(u.ID.String())
	if err != nil || u.Login == "" {
		return domain.PlatformAccount{}, fmt.Errorf("%w: github returned an unusable user for %q", accounts.ErrUnavailable, login)
	}
	return domain.PlatformAccount{Login: u.Login, ID: id}, nil
}

func (r *Resolver) get(ctx context.Context, path string, result any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", r.apiVersion)
	if r.token != "" {
		request.Header.Set("Authorization", "Bearer "+r.token)
	}

	response, err := r.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("github: reading response body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return parseAPIErrorFromBody(response.StatusCode, body)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("github: decoding response: %w", err)
	}
	return nil
}
