package stepauth

import "context"

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
	ctxKeySession
)

// WithClientIP attaches the caller's network address to the context so the
// per-IP rate layer can key on it. Operations run without it skip that
// layer.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// WithSession attaches an authenticated session to the context. The
// middleware guards set it after token validation; handlers read it back
// with SessionFromContext.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKeySession).(*Session)
	return s
}
