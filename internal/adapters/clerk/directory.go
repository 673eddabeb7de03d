// Package clerk reads and writes identity metadata through the identity provider's backend
// user API, so the provider stays the only store of linked wallets.
package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

const (
	githubProvider   = "oauth_github"
	maxResponseBytes = 1 << 20
)

// Directory implements identityrepo.Repository on top of the provider's user API.
//
// The platform account comes from the user's GitHub external account and is never written
// here; Ensure only reads. SetWallet merges public_metadata.wallets.solana.
type Directory struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDirectory(cfg config.ClerkConfig, httpClient *http.Client, logger *slog.Logger) *Directory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

type externalAccount struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	// ExternalID is the older name of ProviderUserID.
	ExternalID string `json:"external_id"`
	Username   string `json:"username"`
}

type user struct {
	ID               string            `json:"id"`
	Username         string            `json:"username"`
	ExternalAccounts []externalAccount `json:"external_accounts"`
	PublicMetadata   struct {
		Wallets struct {
			Solana string `json:"solana"`
		} `json:"wallets"`
	} `json:"public_metadata"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

func (u user) record() (identityrepo.Record, error) {
	rec := identityrepo.Record{
		ProviderUserID: domain.ProviderUserID(u.ID),
		Handle:         u.Username,
		WalletAddress:  u.PublicMetadata.Wallets.Solana,
		CreatedAt:      time.UnixMilli(u.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(u.UpdatedAt).UTC(),
	}
	for _, acc := range u.ExternalAccounts {
		if acc.Provider != githubProvider {
			continue
		}
		raw := acc.ProviderUserID
		if raw == "" {
			raw = acc.ExternalID
		}
		id, err := domain.ParsePlatformUserID(raw)
		if err != nil {
			return identityrepo.Record{}, fmt.Errorf("clerk: github account id %q: %w", raw, err)
		}
		rec.PlatformUserID = id
		if rec.Handle == "" {
			rec.Handle = acc.Username
		}
		break
	}
	return rec, nil
}

func (d *Directory) Get(ctx context.Context, id domain.ProviderUserID) (identityrepo.Record, error) {
	var u user
	if err := d.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(string(id)), nil, &u); err != nil {
		return identityrepo.Record{}, err
	}
	return u.record()
}

// Ensure returns the provider's record. A session asserting a different platform account
// than the provider holds is a conflict.
func (d *Directory) Ensure(ctx context.Context, seed identityrepo.Record) (identityrepo.Record, error) {
	rec, err := d.Get(ctx, seed.ProviderUserID)
	if err != nil {
		return identityrepo.Record{}, err
	}
	if !seed.PlatformUserID.IsZero() && !rec.PlatformUserID.IsZero() && seed.PlatformUserID != rec.PlatformUserID {
		return identityrepo.Record{}, identityrepo.ErrPlatformIDConflict
	}
	if rec.Handle == "" {
		rec.Handle = seed.Handle
	}
	return rec, nil
}

func (d *Directory) SetWallet(ctx context.Context, id domain.ProviderUserID, address string, _ time.Time) error {
	body := map[string]any{
		"public_metadata": map[string]any{
			"wallets": map[string]any{"solana": address},
		},
	}
	if err := d.do(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(string(id))+"/metadata", body, nil); err != nil {
		return err
	}
	d.logger.DebugContext(ctx, "wallet metadata updated", "providerUserId", string(id))
	return nil
}

func (d *Directory) do(ctx context.Context, method, path string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("clerk: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("clerk: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+d.secretKey)
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: clerk %s %s: %v", identityrepo.ErrUnavailable, method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: clerk: reading response body: %v", identityrepo.ErrUnavailable, err)
	}
	switch {
	case response.StatusCode == http.StatusNotFound:
		return identityrepo.ErrNotFound
	case response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: clerk %s %s: HTTP %d", identityrepo.ErrUnavailable, method, path, response.StatusCode)
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return fmt.Errorf("clerk %s %s: HTTP %d: %s", method, path, response.StatusCode, strings.TrimSpace(string(body)))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("clerk: decoding response: %w", err)
	}
	return nil
}
