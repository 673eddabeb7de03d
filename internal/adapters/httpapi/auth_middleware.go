package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
)

// SessionCookie is the identity provider's first-party session cookie.
const SessionCookie = "__session"

// SessionVerifier validates an identity-provider session token.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (domain.Session, error)
}

// NewAuthMiddleware attaches the verified session, read from Authorization: Bearer or the
// session cookie, to the request context.
//
// It does not reject requests: several routes also accept a portable token, so each handler
// decides whether a missing session is an error.
func NewAuthMiddleware(v SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := sessionToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := v.Verify(r.Context(), raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

func sessionToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		const prefix = "Bearer "
		if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
			return strings.TrimSpace(authz[len(prefix):])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// NewDevAuthMiddleware is a local/dev-only auth shim.
//
// It builds the session from X-Debug-Subject, X-Debug-Handle and X-Debug-Platform-Id, falling
// back to defaults when the subject header is absent. An empty default subject means requests
// without the header stay unauthenticated.
//
// Do NOT use this in production deployments.
func NewDevAuthMiddleware(defaults config.DevAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := domain.Session{
				Subject:        domain.ProviderUserID(strings.TrimSpace(r.Header.Get("X-Debug-Subject"))),
				Handle:         strings.TrimSpace(r.Header.Get("X-Debug-Handle")),
				PlatformUserID: domain.PlatformUserID(strings.TrimSpace(r.Header.Get("X-Debug-Platform-Id"))),
			}
			if sess.Subject == "" {
				sess = domain.Session{
					Subject:        domain.ProviderUserID(strings.TrimSpace(defaults.Subject)),
					Handle:         defaults.Handle,
					PlatformUserID: domain.PlatformUserID(defaults.PlatformID),
				}
			}
			if sess.Subject == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !sess.PlatformUserID.IsZero() {
				if _, err := domain.ParsePlatformUserID(string(sess.PlatformUserID)); err != nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}
