// pkg/middleware/scope.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"orgbridge/pkg/problems"
)

// local context key type (unique to this file)
type scopeCtxKey string

const (
	ctxScopesKey scopeCtxKey = "scopes"
)

// WithScopes stores scopes slice in context.
func WithScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, ctxScopesKey, scopes)
}

// ScopesFrom extracts scopes slice from context.
func ScopesFrom(ctx context.Context) []string {
	if v := ctx.Value(ctxScopesKey); v != nil {
		if s, ok := v.([]string); ok {
			return s
		}
	}
	return nil
}

// RequireScope rejects requests whose verified token lacks any of the given
// scopes. Requests that JWTAuth let through without a token (dev mode) pass.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFrom(r.Context()) != nil && !HasAnyScope(r.Context(), scopes) {
				problems.Write(w, problems.New(http.StatusForbidden, "insufficient-scope", "Insufficient scope", "requires one of: "+strings.Join(scopes, ", ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasAnyScope returns true if context holds at least one of the required scopes.
func HasAnyScope(ctx context.Context, required []string) bool {
	if len(required) == 0 {
		return true
	}
	curr := ScopesFrom(ctx)
	if len(curr) == 0 {
		return false
	}
	set := map[string]struct{}{}
	for _, s := range curr {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
