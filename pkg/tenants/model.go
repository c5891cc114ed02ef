package tenants

import (
	"strings"

	"github.com/google/uuid"
)

// Organization is the per-tenant configuration of one remote organization.
type Organization struct {
	ID               uuid.UUID `yaml:"id" json:"id"`
	Slug             string    `yaml:"slug" json:"slug"`                           // short name used in routes (acme)
	Name             string    `yaml:"name" json:"name"`                           // display name
	ConnectionString string    `yaml:"connection_string" json:"connection_string"` // Url=...;Token=...
}

// Normalize trims fields and lower-cases the slug.
func (o Organization) Normalize() Organization {
	o.Slug = strings.ToLower(strings.TrimSpace(o.Slug))
	o.Name = strings.TrimSpace(o.Name)
	o.ConnectionString = strings.TrimSpace(o.ConnectionString)
	if o.Name == "" {
		o.Name = o.Slug
	}
	return o
}
