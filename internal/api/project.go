package api

import (
	"encoding/json"

	"github.com/jmespath/go-jmespath"
)

// projection reshapes a response with a JMESPath expression, e.g.
// "entities[].attributes.name".
type projection struct {
	expr string
	jp   *jmespath.JMESPath
}

func compileProjection(expr string) (*projection, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, invalid("invalid project expression: %v", err)
	}
	return &projection{expr: expr, jp: jp}, nil
}

// apply runs the expression against the JSON form of v.
func (p *projection) apply(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out, err := p.jp.Search(doc)
	if err != nil {
		return nil, invalid("project %q: %v", p.expr, err)
	}
	return out, nil
}
