// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresProvider constructs a PostgreSQL-backed organization provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the organizations table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS organizations (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  name text NOT NULL DEFAULT '',
  connection_string text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
ALTER TABLE organizations ADD COLUMN IF NOT EXISTS enabled boolean NOT NULL DEFAULT true;
`)
	return err
}

// SeedFromEnv upserts organizations from ORGANIZATION_SEED_JSON:
// [
//
//	{"id":"...","slug":"acme","name":"Acme","connection_string":"Url=...;Token=..."}
//
// ]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []Organization
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		entry = entry.Normalize()
		if entry.ID == uuid.Nil {
			continue
		}
		if _, err := dbPool.Exec(ctx, `INSERT INTO organizations(id,slug,name,connection_string)
		  VALUES ($1,NULLIF($2,''),$3,$4)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,name=EXCLUDED.name,connection_string=EXCLUDED.connection_string,updated_at=NOW()`,
			entry.ID, entry.Slug, entry.Name, entry.ConnectionString); err != nil {
			return err
		}
	}
	return nil
}

// ListOrganizations returns every enabled organization ordered by name.
func (p *pgProvider) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT id, COALESCE(slug,''), name, connection_string FROM organizations WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Slug, &o.Name, &o.ConnectionString); err != nil {
			p.log.Warnw("organization row skipped", "err", err)
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrganizationByID fetches an organization by its UUID.
func (p *pgProvider) OrganizationByID(ctx context.Context, id uuid.UUID) (Organization, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id, COALESCE(slug,''), name, connection_string FROM organizations WHERE id=$1 AND enabled`, id)
	return scanOrganization(row)
}

// OrganizationBySlug fetches an organization using its slug.
func (p *pgProvider) OrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id, COALESCE(slug,''), name, connection_string FROM organizations WHERE slug=$1 AND enabled`, strings.ToLower(strings.TrimSpace(slug)))
	return scanOrganization(row)
}

func scanOrganization(row pgx.Row) (Organization, error) {
	var o Organization
	if err := row.Scan(&o.ID, &o.Slug, &o.Name, &o.ConnectionString); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, err
	}
	return o, nil
}
