package resolve

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxRequestKey struct{}

// Middleware makes the in-flight request visible to Header resolvers.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), r)))
		})
	}
}

func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, ctxRequestKey{}, r)
}

func RequestFrom(ctx context.Context) *http.Request {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(ctxRequestKey{}).(*http.Request)
	return r
}

type header struct {
	name  string
	parse ParseFunc
}

// Header resolves from a request header. Blank values count as absent.
func Header(name string, parse ParseFunc) Resolver {
	return &header{name: name, parse: parse}
}

func (h *header) Resolve(ctx context.Context) (uuid.UUID, bool) {
	r := RequestFrom(ctx)
	if r == nil {
		return uuid.Nil, false
	}
	v := strings.TrimSpace(r.Header.Get(h.name))
	if v == "" {
		return uuid.Nil, false
	}
	if h.parse != nil {
		return h.parse(ctx, v)
	}
	return ParseUUID(ctx, v)
}
