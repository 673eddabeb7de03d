package itest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghvoucher/voucher-bridge/internal/adapters/httpapi"
	memaccounts "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/accounts"
	memclock "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/clock"
	memidempotency "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/idempotency"
	memidentityrepo "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/identityrepo"
	memledger "github.com/ghvoucher/voucher-bridge/internal/adapters/memory/ledger"
	pgidempotency "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/idempotency"
	pgidentityrepo "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/identityrepo"
	postgres_testutil "github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/testutil"
	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/identity"
	"github.com/ghvoucher/voucher-bridge/internal/app/vouchers"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/platform/logging"
	"github.com/ghvoucher/voucher-bridge/internal/platform/origin"
	idempotencyport "github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
	identityrepoport "github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

const programID = "8iRpzhFJF4PJnhyKZRDXk6B3TKjxQGEX6kcsteYq77iR"

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL  string
	client   *http.Client
	resolver *memaccounts.Resolver
	ledger   *memledger.Ledger
	clk      *memclock.ManualClock
}

// caller is sent as X-Debug-* headers.
type caller struct {
	subject, handle, platformID string
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var (
		identityRepo identityrepoport.Repository
		idemStore    idempotencyport.Store
	)
	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		identityRepo = pgidentityrepo.NewRepo(pool)
		idemStore = pgidempotency.NewStore(pool)
	case backendMemory:
		identityRepo = memidentityrepo.NewRepo()
		idemStore = memidempotency.NewStore()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	resolver := memaccounts.NewResolver()
	ledger := memledger.NewLedger()
	deriver := addressing.NewDeriver(domain.MustParseAddress(programID))

	identitySvc := identity.NewService(identityRepo, identity.PlainCodec{}, clk, logging.Discard())
	voucherSvc := vouchers.NewService(resolver, ledger, deriver, vouchers.NewIDGenerator(clk, nil), clk, logging.Discard())
	voucherSvc.FrontendURL = "https://app.example"
	api := httpapi.NewServer(identitySvc, voucherSvc, idemStore, clk, logging.Discard())

	// An empty default subject means requests must send X-Debug-Subject, which keeps
	// unauthenticated paths reachable.
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AuthMiddleware: httpapi.NewDevAuthMiddleware(config.DevAuthConfig{}),
		Origins:        origin.NewGuard(origin.Prefix("chrome-extension://"), origin.Exact("https://github.com")),
		Logger:         logging.Discard(),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{baseURL: srv.URL, client: srv.Client(), resolver: resolver, ledger: ledger, clk: clk}
}

// newCaller registers a fresh account with the resolver. Platform ids are unique across
// identities, so each call draws a new one.
func (s *testServer) newCaller(handle string) caller {
	platformID := domain.PlatformUserIDFromUint(uint64(uuid.New().ID()) + 1)
	s.resolver.Add(handle, platformID)
	return caller{subject: "itest_" + uuid.NewString(), handle: handle, platformID: string(platformID)}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, who caller, body any, hdr map[string]string) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if who.subject != "" {
		req.Header.Set("X-Debug-Subject", who.subject)
		req.Header.Set("X-Debug-Handle", who.handle)
		req.Header.Set("X-Debug-Platform-Id", who.platformID)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		RequestID string         `json:"requestId"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) errorResponse {
	t.Helper()
	requireStatus(t, status, body, wantStatus)
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
	return got
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}
