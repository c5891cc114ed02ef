// Package resolve determines which organization an operation targets from
// ambient request signals. A resolver never fails: "not found" is reported as
// (uuid.Nil, false).
package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Resolver produces an organization id from the current unit of work.
// Implementations must be side-effect free so a Chain can call them in order.
type Resolver interface {
	Resolve(ctx context.Context) (uuid.UUID, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (uuid.UUID, bool)

func (f ResolverFunc) Resolve(ctx context.Context) (uuid.UUID, bool) { return f(ctx) }

// ParseFunc converts a raw signal value to an organization id. Its result is
// used verbatim, including absence.
type ParseFunc func(ctx context.Context, value any) (uuid.UUID, bool)

// ParseUUID is the default ParseFunc: the value's string form parsed as a UUID.
func ParseUUID(_ context.Context, value any) (uuid.UUID, bool) {
	if value == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(value))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Chain evaluates resolvers in registration order and stops at the first
// non-empty result.
type Chain []Resolver

func (c Chain) First(ctx context.Context) (uuid.UUID, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if id, ok := r.Resolve(ctx); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Resolve lets a Chain be nested inside another Chain.
func (c Chain) Resolve(ctx context.Context) (uuid.UUID, bool) { return c.First(ctx) }

type static uuid.UUID

// Static always resolves to id. uuid.Nil resolves to nothing.
func Static(id uuid.UUID) Resolver { return static(id) }

func (s static) Resolve(context.Context) (uuid.UUID, bool) {
	id := uuid.UUID(s)
	return id, id != uuid.Nil
}
