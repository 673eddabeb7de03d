package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/platform/auth/jwks_testutil"
	"github.com/ghvoucher/voucher-bridge/internal/platform/auth/sessionverifier"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newJWTTestAPI(t *testing.T) (*testAPI, func(s jwks_testutil.Session) string) {
	t.Helper()

	jwksSrv, setKeys := jwks_testutil.NewRotatingJWKSServer()
	t.Cleanup(jwksSrv.Close)

	kp, err := jwks_testutil.GenerateRSAKeypair("kid-1")
	if err != nil {
		t.Fatalf("GenerateRSAKeypair: %v", err)
	}
	setKeys([]jwks_testutil.Keypair{kp})

	cfg := config.JWTConfig{
		Issuer:                 "test-iss",
		JWKSURL:                jwksSrv.URL,
		JWKSRefreshInterval:    10 * time.Minute,
		JWKSMinRefreshInterval: 0,
		HTTPTimeout:            2 * time.Second,
	}
	now := time.Unix(1_700_000_000, 0)
	v := sessionverifier.NewWithOptions(cfg, nil, fixedClock{t: now})

	mint := func(s jwks_testutil.Session) string {
		if s.Issuer == "" {
			s.Issuer = cfg.Issuer
		}
		tok, err := jwks_testutil.MintSessionJWT(kp, s, now, 5*time.Minute, nil)
		if err != nil {
			t.Fatalf("MintSessionJWT: %v", err)
		}
		return tok
	}
	return newTestAPIWithAuth(t, NewAuthMiddleware(v)), mint
}

func TestAuthMiddleware_BearerSession(t *testing.T) {
	t.Parallel()

	api, mint := newJWTTestAPI(t)
	tok := mint(jwks_testutil.Session{Subject: "user_alice", Username: "alice", GitHubID: 42})

	rec := api.do(t, http.MethodGet, "/api/me", anonymous, nil, map[string]string{"Authorization": "Bearer " + tok})
	requireStatus(t, rec, http.StatusOK)
	me := decode[map[string]any](t, rec)
	if me["handle"] != "alice" || me["platformUserId"] != "42" || me["providerUserId"] != "user_alice" {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestAuthMiddleware_SessionCookie(t *testing.T) {
	t.Parallel()

	api, mint := newJWTTestAPI(t)
	tok := mint(jwks_testutil.Session{Subject: "user_alice", Username: "alice", GitHubID: 42})

	req := httptest.NewRequest(http.MethodGet, "/api/extension-auth", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	rec := httptest.NewRecorder()
	api.h.ServeHTTP(rec, req)
	requireStatus(t, rec, http.StatusOK)
	if decode[tokenResponse](t, rec).Token == "" {
		t.Fatalf("expected token, body=%s", rec.Body.String())
	}
}

func TestAuthMiddleware_RejectedSessionsStayAnonymous(t *testing.T) {
	t.Parallel()

	api, mint := newJWTTestAPI(t)

	cases := map[string]string{
		"wrong issuer": "Bearer " + mint(jwks_testutil.Session{Issuer: "other", Subject: "user_alice"}),
		"garbage":      "Bearer not.a.jwt",
		"basic scheme": "Basic abc",
		"empty bearer": "Bearer ",
	}
	for name, authz := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := api.do(t, http.MethodGet, "/api/extension-auth", anonymous, nil, map[string]string{"Authorization": authz})
			requireError(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")
		})
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	t.Parallel()

	api := newTestAPIWithAuth(t, NewDevAuthMiddleware(config.DevAuthConfig{
		Subject:    "dev|local",
		Handle:     "devuser",
		PlatformID: "1234",
	}))

	rec := api.do(t, http.MethodGet, "/api/me", anonymous, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	if me := decode[map[string]any](t, rec); me["handle"] != "devuser" || me["platformUserId"] != "1234" {
		t.Fatalf("body=%s", rec.Body.String())
	}

	// A bogus platform id header leaves the request anonymous rather than trusting it.
	rec = api.do(t, http.MethodGet, "/api/me", caller{"user_x", "x", "12ab"}, nil, nil)
	requireStatus(t, rec, http.StatusUnauthorized)
}
