package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ghvoucher/voucher-bridge/internal/platform/origin"
)

type RouterOptions struct {
	// AuthMiddleware attaches the caller's session, if any. Nil leaves every request
	// without a session.
	AuthMiddleware func(http.Handler) http.Handler
	// Origins decides cross-origin access. Nil grants no origin.
	Origins *origin.Guard
	Logger  *slog.Logger
}

// NewRouter constructs the API HTTP router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := opts.Origins
	if guard == nil {
		guard = origin.NewGuard()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	// The guard runs before routing so pre-flight requests to any path get 204.
	r.Use(guard.Middleware)

	// Health endpoint is deliberately unauthenticated (used for infra checks).
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if opts.AuthMiddleware != nil {
			r.Use(opts.AuthMiddleware)
		}
		r.Get("/me", s.GetMe)
		r.Get("/extension-auth", s.IssueExtensionToken)
		r.Post("/link-wallet", s.LinkWallet)
		r.Post("/create-voucher", s.CreateVoucher)
		r.Post("/claim-voucher", s.ClaimVoucher)
		r.Get("/vouchers", s.ListVouchers)
		r.Get("/vouchers/{voucherId}", s.GetVoucher)
	})
	return r
}

// requestLogger logs one line per request. Query strings are left out since they may
// carry portable tokens.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
