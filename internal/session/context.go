package session

import (
	"context"
	"net/http"
)

type contextKey struct{}

// WithSession stores the request's session in the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the request's session, or an empty one.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{}
}

// Middleware loads the session once per request and makes it available
// through FromContext.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
