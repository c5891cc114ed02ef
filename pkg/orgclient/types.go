package orgclient

import (
	"github.com/google/uuid"
)

// Entity is a single record of a table on the organization service.
type Entity struct {
	LogicalName string         `json:"logical_name"`
	ID          uuid.UUID      `json:"id"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// PrimaryKey returns the attribute name the service uses for the record id.
func (e Entity) PrimaryKey() string { return e.LogicalName + "id" }

// EntityReference points at a record without carrying its attributes.
type EntityReference struct {
	LogicalName string    `json:"logical_name"`
	ID          uuid.UUID `json:"id"`
}

type ColumnSet struct {
	AllColumns bool     `json:"all_columns,omitempty"`
	Columns    []string `json:"columns,omitempty"`
}

func AllColumns() ColumnSet { return ColumnSet{AllColumns: true} }

func Columns(cols ...string) ColumnSet { return ColumnSet{Columns: cols} }

// Query selects records of one table. PagingCookie continues a previous page.
type Query struct {
	EntityName   string    `json:"entity_name"`
	Columns      ColumnSet `json:"columns"`
	Filter       string    `json:"filter,omitempty"`
	OrderBy      string    `json:"order_by,omitempty"`
	Top          int       `json:"top,omitempty"`
	PageSize     int       `json:"page_size,omitempty"`
	PagingCookie string    `json:"paging_cookie,omitempty"`
}

type EntityCollection struct {
	EntityName   string   `json:"entity_name"`
	Entities     []Entity `json:"entities"`
	MoreRecords  bool     `json:"more_records"`
	PagingCookie string   `json:"paging_cookie,omitempty"`
}

// Relationship names a navigation between two tables.
type Relationship struct {
	SchemaName string `json:"schema_name"`
}

// OrganizationRequest is a named message (action or function) with parameters.
type OrganizationRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type OrganizationResponse struct {
	Name    string         `json:"name"`
	Results map[string]any `json:"results,omitempty"`
}
