package resolve

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RouteValues is a read-only view of the matched route parameters.
type RouteValues map[string]any

// RouteAccessor returns the route values of the in-flight unit of work. ok is
// false when no unit of work is active.
type RouteAccessor func(ctx context.Context) (RouteValues, bool)

// ChiRouteValues reads the parameters chi matched for the current request.
func ChiRouteValues(ctx context.Context) (RouteValues, bool) {
	if ctx == nil {
		return nil, false
	}
	rctx := chi.RouteContext(ctx)
	if rctx == nil {
		return nil, false
	}
	vals := make(RouteValues, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			// later (more specific) sub-router matches win
			vals[k] = rctx.URLParams.Values[i]
		}
	}
	return vals, true
}

type routeValue struct {
	accessor RouteAccessor
	name     string
	parse    ParseFunc
}

// RouteValue resolves from the route parameter called name. When parse is nil
// the value is parsed as a UUID.
func RouteValue(accessor RouteAccessor, name string, parse ParseFunc) Resolver {
	return &routeValue{accessor: accessor, name: name, parse: parse}
}

func (r *routeValue) Resolve(ctx context.Context) (uuid.UUID, bool) {
	if r.accessor == nil || ctx == nil {
		return uuid.Nil, false
	}
	vals, ok := r.accessor(ctx)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := vals[r.name]
	if !ok {
		return uuid.Nil, false
	}
	if r.parse != nil {
		return r.parse(ctx, raw)
	}
	return ParseUUID(ctx, raw)
}
