// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Organization sources (Postgres wins when DATABASE_URL is set)
	DatabaseURL          string
	OrganizationsFile    string // YAML list of organizations
	OrganizationSeedJSON string
	DefaultOrganization  string // uuid of the fallback organization, optional

	// Resolution signals
	RouteParam   string
	TenantHeader string
	TenantClaim  string

	// Slug cache
	RedisURL     string
	SlugCacheTTL time.Duration

	// OIDC / JWT
	Issuer    string
	Audience  string
	JWKSURL   string
	ClockSkew time.Duration
	// RequireAuth forces bearer validation even in dev.
	RequireAuth bool
	// DebugDoubleWrite logs handlers that write the status line twice.
	DebugDoubleWrite bool
	// MaxRecords bounds how many records one collection read pages through.
	MaxRecords int

	ConnectTimeout time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                  env("ORGBRIDGE_ENV", "dev"),
		HTTPAddr:             env("ORGBRIDGE_HTTP_ADDR", ":8080"),
		DatabaseURL:          env("DATABASE_URL", ""),
		OrganizationsFile:    env("ORGANIZATIONS_FILE", ""),
		OrganizationSeedJSON: env("ORGANIZATION_SEED_JSON", ""),
		DefaultOrganization:  env("DEFAULT_ORGANIZATION_ID", ""),
		RouteParam:           env("ORGANIZATION_ROUTE_PARAM", "org"),
		TenantHeader:         env("ORGANIZATION_HEADER", "X-Organization-Id"),
		TenantClaim:          env("ORGANIZATION_CLAIM", "tid"),
		RedisURL:             env("REDIS_URL", ""),
		SlugCacheTTL:         envDur("SLUG_CACHE_TTL_SEC", 300) * time.Second,
		Issuer:               env("OIDC_ISSUER", ""),
		Audience:             env("OIDC_AUDIENCE", "orgbridge"),
		JWKSURL:              env("JWKS_URL", ""),
		ClockSkew:            envDur("JWT_CLOCK_SKEW_SEC", 60) * time.Second,
		RequireAuth:          envBool("REQUIRE_AUTH", false),
		DebugDoubleWrite:     envBool("DEBUG_DOUBLE_WRITE", false),
		MaxRecords:           envInt("FETCH_MAX_RECORDS", 5000),
		ConnectTimeout:       envDur("CONNECT_TIMEOUT_SEC", 30) * time.Second,
	}
	if cfg.DatabaseURL == "" && cfg.OrganizationsFile == "" && cfg.OrganizationSeedJSON == "" {
		log.Println("[WARN] no organization source configured, using in-memory dev organization")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
