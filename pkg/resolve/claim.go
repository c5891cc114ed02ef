package resolve

import (
	"context"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenSource returns the verified token of the current request, or nil.
type TokenSource func(ctx context.Context) jwt.Token

type claim struct {
	source TokenSource
	name   string
	parse  ParseFunc
}

// Claim resolves from a private claim of the request's access token (tid by
// convention).
func Claim(source TokenSource, name string, parse ParseFunc) Resolver {
	return &claim{source: source, name: name, parse: parse}
}

func (c *claim) Resolve(ctx context.Context) (uuid.UUID, bool) {
	if c.source == nil || ctx == nil {
		return uuid.Nil, false
	}
	tok := c.source(ctx)
	if tok == nil {
		return uuid.Nil, false
	}
	v, ok := tok.Get(c.name)
	if !ok {
		return uuid.Nil, false
	}
	if c.parse != nil {
		return c.parse(ctx, v)
	}
	return ParseUUID(ctx, v)
}
