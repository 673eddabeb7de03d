package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	memaccounts "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/accounts"
	memclock "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/clock"
	memidempotency "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/idempotency"
	memidentityrepo "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/identityrepo"
	memledger "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/ledger"
	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/identity"
	"github.com/ghvoucher/voucher-bridge/internal/app/vouchers"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/platform/logging"
	"github.com/ghvoucher/voucher-bridge/internal/platform/origin"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/accounts"
)

const testProgramID = "8iRpzhFJF4PJnhyKZRDXk6B3TKjxQGEX6kcsteYq77iR"

type testAPI struct {
	h      http.Handler
	ledger *memledger.Ledger
	clk    *memclock.ManualClock
}

type caller struct {
	subject, handle, platformID string
}

var (
	maintainer = caller{"user_m", "maintainer", "7"}
	alice      = caller{"user_alice", "alice", "42"}
	bob        = caller{"user_bob", "bob", "99"}
	newcomer   = caller{"user_new", "newcomer", ""}
	anonymous  = caller{}
)

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithAuth(t, NewDevAuthMiddleware(config.DevAuthConfig{}))
}

func newTestAPIWithAuth(t *testing.T, authMW func(http.Handler) http.Handler) *testAPI {
	t.Helper()
	resolver := memaccounts.NewResolver()
	resolver.Add("alice", "42")
	resolver.Add("bob", "99")
	return newTestAPIWithResolver(t, authMW, resolver)
}

func newTestAPIWithResolver(t *testing.T, authMW func(http.Handler) http.Handler, resolver accounts.Resolver) *testAPI {
	t.Helper()

	clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	ledger := memledger.NewLedger()
	deriver := addressing.NewDeriver(domain.MustParseAddress(testProgramID))

	identitySvc := identity.NewService(memidentityrepo.NewRepo(), identity.PlainCodec{}, clk, logging.Discard())
	voucherSvc := vouchers.NewService(resolver, ledger, deriver, vouchers.NewIDGenerator(clk, nil), clk, logging.Discard())
	voucherSvc.FrontendURL = "https://app.example"

	api := NewServer(identitySvc, voucherSvc, memidempotency.NewStore(), clk, logging.Discard())
	h := NewRouter(api, RouterOptions{
		AuthMiddleware: authMW,
		Origins: origin.NewGuard(
			origin.Prefix("chrome-extension://"),
			origin.Exact("https://github.com"),
			origin.Exact("https://app.example"),
		),
		Logger: logging.Discard(),
	})
	return &testAPI{h: h, ledger: ledger, clk: clk}
}

func (a *testAPI) do(t *testing.T, method, path string, who caller, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		buf = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.subject != "" {
		req.Header.Set("X-Debug-Subject", who.subject)
		req.Header.Set("X-Debug-Handle", who.handle)
		req.Header.Set("X-Debug-Platform-Id", who.platformID)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, rec.Body.String())
	}
	return out
}

type errorEnvelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		RequestID string         `json:"requestId"`
	} `json:"error"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) errorEnvelope {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", rec.Code, wantStatus, rec.Body.String())
	}
	got := decode[errorEnvelope](t, rec)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, rec.Body.String())
	}
	if got.Error.RequestID == "" {
		t.Fatalf("expected requestId in error body=%s", rec.Body.String())
	}
	return got
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status=%d want=%d body=%s", rec.Code, want, rec.Body.String())
	}
}

type descriptor struct {
	Success             bool    `json:"success"`
	VoucherID           string  `json:"voucherId"`
	RecipientHandle     string  `json:"recipientHandle"`
	RecipientPlatformID string  `json:"recipientPlatformId"`
	SenderOrgID         string  `json:"senderOrgId"`
	Amount              float64 `json:"amount"`
	AmountBaseUnits     uint64  `json:"amountBaseUnits"`
	Reason              string  `json:"reason"`
	OrganizationAddress string  `json:"organizationAddress"`
	VoucherAddress      string  `json:"voucherAddress"`
	MaintainerWallet    *string `json:"maintainerWallet"`
	ClaimURL            string  `json:"claimUrl"`
}

// settle stands in for the issuer's wallet confirming the create transaction.
func (a *testAPI) settle(d descriptor) {
	a.ledger.Put(domain.VoucherRecord{
		Address:             domain.MustParseAddress(d.VoucherAddress),
		VoucherID:           domain.VoucherID(d.VoucherID),
		Organization:        domain.MustParseAddress(d.OrganizationAddress),
		RecipientPlatformID: domain.PlatformUserID(d.RecipientPlatformID),
		AmountBaseUnits:     d.AmountBaseUnits,
		State:               domain.VoucherStatePending,
		Reason:              d.Reason,
		CreatedAt:           a.clk.Now(),
	})
}

func (a *testAPI) linkWallet(t *testing.T, who caller) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address, signature := identity.SignLink(priv, who.handle)
	rec := a.do(t, http.MethodPost, "/api/link-wallet", who, map[string]any{"address": address, "signature": signature}, nil)
	requireStatus(t, rec, http.StatusOK)
	return address
}

func (a *testAPI) createVoucher(t *testing.T, who caller, body map[string]any) descriptor {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/create-voucher", who, body, nil)
	requireStatus(t, rec, http.StatusOK)
	return decode[descriptor](t, rec)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/healthz", anonymous, nil, nil)
	requireStatus(t, rec, http.StatusOK)
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	cases := []struct {
		name    string
		method  string
		origin  string
		status  int
		granted bool
	}{
		{"extension preflight", http.MethodOptions, "chrome-extension://abcdefghijklmnop", http.StatusNoContent, true},
		{"platform preflight", http.MethodOptions, "https://github.com", http.StatusNoContent, true},
		{"evil preflight", http.MethodOptions, "https://evil.example", http.StatusNoContent, false},
		{"evil request", http.MethodGet, "https://evil.example", http.StatusUnauthorized, false},
		{"app request", http.MethodGet, "https://app.example", http.StatusUnauthorized, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := api.do(t, tc.method, "/api/me", anonymous, nil, map[string]string{"Origin": tc.origin})
			requireStatus(t, rec, tc.status)
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tc.granted && got != tc.origin {
				t.Fatalf("Access-Control-Allow-Origin=%q want %q", got, tc.origin)
			}
			if !tc.granted && got != "" {
				t.Fatalf("unexpected Access-Control-Allow-Origin=%q", got)
			}
			if tc.granted && rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Fatalf("missing credentials header")
			}
		})
	}
}

func TestGetMe(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/me", anonymous, nil, nil)
	requireStatus(t, rec, http.StatusUnauthorized)
	if got := decode[map[string]any](t, rec); got["authenticated"] != false {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/me", alice, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	me := decode[map[string]any](t, rec)
	if me["authenticated"] != true || me["handle"] != "alice" || me["providerUserId"] != "user_alice" ||
		me["platformUserId"] != "42" || me["walletAddress"] != nil {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/me", newcomer, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	if me := decode[map[string]any](t, rec); me["platformUserId"] != nil {
		t.Fatalf("expected null platformUserId, body=%s", rec.Body.String())
	}
}

func TestGetMe_WithPortableToken(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	wallet := api.linkWallet(t, alice)

	rec := api.do(t, http.MethodGet, "/api/extension-auth", alice, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	token := decode[tokenResponse](t, rec).Token
	if token == "" {
		t.Fatalf("empty token")
	}

	rec = api.do(t, http.MethodGet, "/api/me?token="+token, anonymous, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	me := decode[map[string]any](t, rec)
	if me["handle"] != "alice" || me["platformUserId"] != "42" || me["walletAddress"] != wallet {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/me?token=not-a-token", anonymous, nil, nil)
	requireStatus(t, rec, http.StatusUnauthorized)
	got := decode[struct {
		Authenticated bool        `json:"authenticated"`
		Error         errorBodyJS `json:"error"`
	}](t, rec)
	if got.Authenticated || got.Error.Code != "TOKEN_MALFORMED" {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

type errorBodyJS struct {
	Code string `json:"code"`
}

func TestExtensionAuth_RequiresSession(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	requireError(t, api.do(t, http.MethodGet, "/api/extension-auth", anonymous, nil, nil), http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestLinkWallet(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	requireError(t, api.do(t, http.MethodPost, "/api/link-wallet", anonymous, map[string]any{"address": "x", "signature": "y"}, nil),
		http.StatusUnauthorized, "UNAUTHENTICATED")

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	// Signed for another handle.
	address, signature := identity.SignLink(priv, "mallory")
	requireError(t, api.do(t, http.MethodPost, "/api/link-wallet", alice, map[string]any{"address": address, "signature": signature}, nil),
		http.StatusBadRequest, "INVALID_SIGNATURE")
	requireError(t, api.do(t, http.MethodPost, "/api/link-wallet", alice, map[string]any{"address": "0OIl", "signature": signature}, nil),
		http.StatusBadRequest, "INVALID_ADDRESS")
	requireError(t, api.do(t, http.MethodPost, "/api/link-wallet", alice, "{", nil),
		http.StatusBadRequest, "VALIDATION_ERROR")

	rec := api.do(t, http.MethodGet, "/api/me", alice, nil, nil)
	if me := decode[map[string]any](t, rec); me["walletAddress"] != nil {
		t.Fatalf("failed links must not change the identity, body=%s", rec.Body.String())
	}

	// Linking needs a GitHub account.
	address, signature = identity.SignLink(priv, newcomer.handle)
	requireError(t, api.do(t, http.MethodPost, "/api/link-wallet", newcomer, map[string]any{"address": address, "signature": signature}, nil),
		http.StatusBadRequest, "PLATFORM_ACCOUNT_NOT_LINKED")

	wallet := api.linkWallet(t, alice)
	rec = api.do(t, http.MethodGet, "/api/me", alice, nil, nil)
	if me := decode[map[string]any](t, rec); me["walletAddress"] != wallet {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestCreateVoucher_WithPortableToken(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	wallet := api.linkWallet(t, maintainer)

	rec := api.do(t, http.MethodGet, "/api/extension-auth", maintainer, nil, nil)
	token := decode[tokenResponse](t, rec).Token

	rec = api.do(t, http.MethodPost, "/api/create-voucher?token="+token, anonymous, map[string]any{
		"recipientUsername": "alice",
		"amount":            "1.5",
		"reason":            "fixed the flaky test",
	}, nil)
	requireStatus(t, rec, http.StatusOK)
	d := decode[descriptor](t, rec)
	if !d.Success || d.RecipientHandle != "alice" || d.RecipientPlatformID != "42" || d.SenderOrgID != "7" {
		t.Fatalf("body=%s", rec.Body.String())
	}
	if d.Amount != 1.5 || d.AmountBaseUnits != 1_500_000_000 || d.Reason != "fixed the flaky test" {
		t.Fatalf("body=%s", rec.Body.String())
	}
	if d.MaintainerWallet == nil || *d.MaintainerWallet != wallet {
		t.Fatalf("maintainerWallet=%v want %s", d.MaintainerWallet, wallet)
	}
	if d.ClaimURL != "https://app.example/claim/"+d.VoucherID {
		t.Fatalf("claimUrl=%q", d.ClaimURL)
	}
	if _, err := domain.ParseAddress(d.VoucherAddress); err != nil {
		t.Fatalf("voucherAddress: %v", err)
	}
}

func TestCreateVoucher_Errors(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	cases := []struct {
		name   string
		path   string
		who    caller
		body   any
		status int
		code   string
	}{
		{"no credentials", "/api/create-voucher", anonymous, map[string]any{"recipientHandle": "alice", "amount": 1}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"malformed token", "/api/create-voucher?token=%7Bnope", anonymous, map[string]any{"recipientHandle": "alice", "amount": 1}, http.StatusBadRequest, "TOKEN_MALFORMED"},
		{"negative amount", "/api/create-voucher", maintainer, map[string]any{"recipientHandle": "alice", "amount": -1}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"non-numeric amount", "/api/create-voucher", maintainer, map[string]any{"recipientHandle": "alice", "amount": "lots"}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown recipient", "/api/create-voucher", maintainer, map[string]any{"recipientHandle": "ghost", "amount": 1}, http.StatusBadRequest, "RECIPIENT_RESOLUTION_FAILED"},
		{"missing recipient", "/api/create-voucher", maintainer, map[string]any{"amount": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"issuer without github", "/api/create-voucher", newcomer, map[string]any{"recipientHandle": "alice", "amount": 1}, http.StatusBadRequest, "PLATFORM_ACCOUNT_NOT_LINKED"},
		{"bad json", "/api/create-voucher", maintainer, "{", http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			requireError(t, api.do(t, http.MethodPost, tc.path, tc.who, tc.body, nil), tc.status, tc.code)
		})
	}
}

func TestCreateVoucher_Idempotency(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	body := map[string]any{"recipientHandle": "alice", "amount": 2, "reason": "docs"}
	key := map[string]string{"Idempotency-Key": "create-1"}

	first := api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key)
	requireStatus(t, first, http.StatusOK)
	second := api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key)
	requireStatus(t, second, http.StatusOK)
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed response")
	}
	if a, b := decode[descriptor](t, first).VoucherID, decode[descriptor](t, second).VoucherID; a != b {
		t.Fatalf("replay minted a new id: %s vs %s", a, b)
	}

	body["amount"] = 3
	requireError(t, api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key), http.StatusConflict, "IDEMPOTENCY_KEY_REUSE")

	// Without a key every call mints a fresh voucher.
	body["amount"] = 2
	a := api.createVoucher(t, maintainer, body)
	b := api.createVoucher(t, maintainer, body)
	if a.VoucherID == b.VoucherID {
		t.Fatalf("expected distinct ids, got %s twice", a.VoucherID)
	}
}

// gatedResolver blocks every lookup until release is closed and reports each arrival.
type gatedResolver struct {
	arrived chan string
	release chan struct{}
	next    accounts.Resolver
}

func (g *gatedResolver) ResolveHandle(ctx context.Context, handle string) (domain.PlatformAccount, error) {
	g.arrived <- handle
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.PlatformAccount{}, ctx.Err()
	}
	return g.next.ResolveHandle(ctx, handle)
}

func TestCreateVoucher_IdempotencyUnderConcurrency(t *testing.T) {
	t.Parallel()

	inner := memaccounts.NewResolver()
	inner.Add("alice", "42")
	gate := &gatedResolver{arrived: make(chan string, 4), release: make(chan struct{}), next: inner}
	api := newTestAPIWithResolver(t, NewDevAuthMiddleware(config.DevAuthConfig{}), gate)

	body := map[string]any{"recipientHandle": "alice", "amount": 2, "reason": "docs"}
	key := map[string]string{"Idempotency-Key": "double-click"}

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key)
	}()
	select {
	case <-gate.arrived:
	case <-time.After(5 * time.Second):
		t.Fatalf("first request never reached the resolver")
	}

	// While the first request holds the key, a duplicate must not mint a second voucher.
	requireError(t, api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key), http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT")
	other := map[string]any{"recipientHandle": "alice", "amount": 3, "reason": "docs"}
	requireError(t, api.do(t, http.MethodPost, "/api/create-voucher", maintainer, other, key), http.StatusConflict, "IDEMPOTENCY_KEY_REUSE")
	select {
	case h := <-gate.arrived:
		t.Fatalf("duplicate request resolved %q", h)
	default:
	}

	close(gate.release)
	first := <-firstDone
	requireStatus(t, first, http.StatusOK)

	replay := api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key)
	requireStatus(t, replay, http.StatusOK)
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed response")
	}
	if a, b := decode[descriptor](t, first).VoucherID, decode[descriptor](t, replay).VoucherID; a != b {
		t.Fatalf("same key produced two vouchers: %s and %s", a, b)
	}
}

func TestCreateVoucher_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	key := map[string]string{"Idempotency-Key": "retry-me"}
	body := map[string]any{"recipientHandle": "nobody-here", "amount": 1}

	requireError(t, api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key), http.StatusBadRequest, "RECIPIENT_RESOLUTION_FAILED")
	// The failed attempt left no reservation behind, so the same request runs again.
	requireError(t, api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key), http.StatusBadRequest, "RECIPIENT_RESOLUTION_FAILED")

	body["recipientHandle"] = "alice"
	rec := api.do(t, http.MethodPost, "/api/create-voucher", maintainer, body, key)
	requireStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("first successful create must not be a replay")
	}
}

func TestClaimVoucher_EndToEnd(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	d := api.createVoucher(t, maintainer, map[string]any{"recipientHandle": "alice", "amount": 1.5, "reason": "thanks"})

	// Not yet confirmed on the ledger.
	aliceWallet := api.linkWallet(t, alice)
	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", alice, map[string]any{"voucherId": d.VoucherID}, nil),
		http.StatusNotFound, "VOUCHER_NOT_FOUND")

	api.settle(d)

	rec := api.do(t, http.MethodPost, "/api/claim-voucher", alice, map[string]any{"voucherId": d.VoucherID}, nil)
	requireStatus(t, rec, http.StatusOK)
	got := decode[claimVoucherResponse](t, rec)
	if !got.Authorized || got.VoucherAddress != d.VoucherAddress || got.ClaimerWallet != aliceWallet ||
		got.PlatformUserID != "42" || got.AmountBaseUnits != 1_500_000_000 {
		t.Fatalf("body=%s", rec.Body.String())
	}

	// Bob has a wallet but is not the recipient.
	api.linkWallet(t, bob)
	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", bob, map[string]any{"voucherId": d.VoucherID}, nil),
		http.StatusBadRequest, "NOT_RECIPIENT")

	// The maintainer never linked a wallet.
	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", caller{"user_m2", "other", "5"}, map[string]any{"voucherId": d.VoucherID}, nil),
		http.StatusBadRequest, "WALLET_NOT_LINKED")

	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", anonymous, map[string]any{"voucherId": d.VoucherID}, nil),
		http.StatusUnauthorized, "UNAUTHENTICATED")
	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", alice, map[string]any{"voucherId": "bad id!"}, nil),
		http.StatusBadRequest, "INVALID_VOUCHER_ID")

	// Once claimed on the ledger, further attempts are refused.
	claimed := domain.VoucherRecord{
		Address:             domain.MustParseAddress(d.VoucherAddress),
		VoucherID:           domain.VoucherID(d.VoucherID),
		Organization:        domain.MustParseAddress(d.OrganizationAddress),
		RecipientPlatformID: "42",
		AmountBaseUnits:     d.AmountBaseUnits,
		State:               domain.VoucherStateClaimed,
		CreatedAt:           api.clk.Now(),
	}
	api.ledger.Put(claimed)
	env := requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", alice, map[string]any{"voucherId": d.VoucherID}, nil),
		http.StatusConflict, "NOT_PENDING")
	if env.Error.Details["state"] != "CLAIMED" {
		t.Fatalf("details=%v", env.Error.Details)
	}
}

func TestClaimVoucher_LedgerUnavailable(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	api.linkWallet(t, alice)
	api.ledger.Unavailable = true
	requireError(t, api.do(t, http.MethodPost, "/api/claim-voucher", alice, map[string]any{"voucherId": "v-abc"}, nil),
		http.StatusBadGateway, "UPSTREAM_UNAVAILABLE")
}

func TestVoucherQueries(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	first := api.createVoucher(t, maintainer, map[string]any{"recipientHandle": "alice", "amount": 1})
	api.settle(first)
	api.clk.Advance(time.Minute)
	second := api.createVoucher(t, maintainer, map[string]any{"recipientHandle": "bob", "amount": "0.25"})
	api.settle(second)

	rec := api.do(t, http.MethodGet, "/api/vouchers/"+first.VoucherID, anonymous, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	v := decode[map[string]any](t, rec)
	if v["voucherId"] != first.VoucherID || v["state"] != "PENDING" || v["recipientPlatformId"] != "42" || v["expiresAt"] != nil {
		t.Fatalf("body=%s", rec.Body.String())
	}
	requireError(t, api.do(t, http.MethodGet, "/api/vouchers/v-missing", anonymous, nil, nil), http.StatusNotFound, "VOUCHER_NOT_FOUND")

	rec = api.do(t, http.MethodGet, "/api/vouchers?role=sent", maintainer, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	sent := decode[voucherListResponse](t, rec).Vouchers
	if len(sent) != 2 || sent[0].VoucherID != second.VoucherID || sent[1].VoucherID != first.VoucherID {
		t.Fatalf("sent=%+v", sent)
	}

	rec = api.do(t, http.MethodGet, "/api/vouchers", alice, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	received := decode[voucherListResponse](t, rec).Vouchers
	if len(received) != 1 || received[0].VoucherID != first.VoucherID {
		t.Fatalf("received=%+v", received)
	}

	requireError(t, api.do(t, http.MethodGet, "/api/vouchers?role=both", alice, nil, nil), http.StatusBadRequest, "VALIDATION_ERROR")
	requireError(t, api.do(t, http.MethodGet, "/api/vouchers", anonymous, nil, nil), http.StatusUnauthorized, "UNAUTHENTICATED")
}
