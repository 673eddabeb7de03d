package httpapi

import (
	"context"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
)

type sessionKey struct{}

func WithSession(ctx context.Context, sess domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	v, ok := ctx.Value(sessionKey{}).(domain.Session)
	return v, ok && v.Subject != ""
}
