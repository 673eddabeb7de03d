// Package origin decides which browser origins may receive credentialed cross-origin responses.
package origin

import (
	"net/http"
	"strings"

	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
)

const (
	AllowedMethods = "GET, POST, OPTIONS"
	AllowedHeaders = "Content-Type, Authorization"
)

type MatchKind int

const (
	// MatchExact allows one origin (scheme://host[:port]), compared case-insensitively.
	MatchExact MatchKind = iota
	// MatchPrefix allows every origin starting with Value followed by at least one character.
	MatchPrefix
)

type Rule struct {
	Kind  MatchKind
	Value string
}

func Exact(origin string) Rule { return Rule{Kind: MatchExact, Value: origin} }

func Prefix(prefix string) Rule { return Rule{Kind: MatchPrefix, Value: prefix} }

func (r Rule) matches(origin string) bool {
	if r.Value == "" {
		return false
	}
	switch r.Kind {
	case MatchExact:
		return strings.EqualFold(origin, r.Value)
	case MatchPrefix:
		return len(origin) > len(r.Value) && strings.EqualFold(origin[:len(r.Value)], r.Value)
	default:
		return false
	}
}

// Guard is the allow-list table applied to every route.
type Guard struct {
	rules []Rule
}

func NewGuard(rules ...Rule) *Guard {
	return &Guard{rules: append([]Rule(nil), rules...)}
}

// FromConfig builds the table: extension prefixes, platform origins, app origins and dev origins.
func FromConfig(cfg config.OriginConfig) *Guard {
	var rules []Rule
	for _, p := range cfg.ExtensionPrefixes {
		rules = append(rules, Prefix(strings.TrimSpace(p)))
	}
	for _, group := range [][]string{cfg.PlatformOrigins, cfg.AppOrigins, cfg.DevOrigins} {
		for _, o := range group {
			rules = append(rules, Exact(strings.TrimRight(strings.TrimSpace(o), "/")))
		}
	}
	return NewGuard(rules...)
}

// Allowed reports whether origin may receive credentialed responses. An empty origin never is.
func (g *Guard) Allowed(origin string) bool {
	if origin == "" || origin == "null" {
		return false
	}
	for _, r := range g.rules {
		if r.matches(origin) {
			return true
		}
	}
	return false
}

// Headers returns the headers granting origin access, or nil when it is not allowed.
// The granted origin is always echoed back, never a wildcard.
func (g *Guard) Headers(origin string) http.Header {
	if !g.Allowed(origin) {
		return nil
	}
	h := http.Header{}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", AllowedMethods)
	h.Set("Access-Control-Allow-Headers", AllowedHeaders)
	return h
}

// Middleware applies the table to every response and answers every OPTIONS request
// with 204, carrying the same headers the real request would get.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		for k, vs := range g.Headers(r.Header.Get("Origin")) {
			for _, v := range vs {
				w.Header().Set(k, v)
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
