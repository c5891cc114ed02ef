// cmd/orgbridge/main.go
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/config"
	"orgbridge/pkg/db"
	"orgbridge/pkg/logger"
	"orgbridge/pkg/middleware"
	"orgbridge/pkg/orgclient"
	"orgbridge/pkg/resolve"
	"orgbridge/pkg/tenants"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "orgbridge",
	Short:        "Multi-tenant gateway to organization services",
	SilenceUsage: true,
	RunE:         serveF,
}

var (
	httpAddr            string
	organizationsFile   string
	defaultOrganization string
	slugCacheSize       int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&organizationsFile, "organizations-file", "", "YAML or JSON file listing organizations (overrides ORGANIZATIONS_FILE).")
	rootCmd.PersistentFlags().StringVar(&defaultOrganization, "default-organization", "", "Organization id used when nothing else resolves (overrides DEFAULT_ORGANIZATION_ID).")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "addr", "", "Listen address (overrides HTTP_ADDR).")
	rootCmd.PersistentFlags().IntVar(&slugCacheSize, "slug-cache-size", 1024, "In-process slug cache entries, 0 disables it.")

	rootCmd.AddCommand(serveCmd, orgsCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("orgbridge", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Load()
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.HTTPAddr = httpAddr
	}
	if flags.Changed("organizations-file") {
		cfg.OrganizationsFile = organizationsFile
	}
	if flags.Changed("default-organization") {
		cfg.DefaultOrganization = defaultOrganization
	}
	return cfg
}

// app is everything the commands share once configuration is loaded.
type app struct {
	cfg   config.Config
	log   *zap.SugaredLogger
	pool  *pgxpool.Pool
	rdb   *redis.Client
	prov  tenants.Provider
	reg   *orgservice.Registry
	route resolve.Resolver
}

func bootstrap(ctx context.Context, cfg config.Config) *app {
	a := &app{cfg: cfg, log: logger.New(cfg.Env)}

	// Optional stores: Postgres for organizations, Redis for the slug cache.
	a.pool = db.MustConnect(cfg, a.log)
	a.rdb = db.MustRedis(cfg, a.log)
	a.prov = organizationProvider(cfg, a.pool, a.log)

	// One guarded service per organization.
	services, err := orgservice.ServicesFromProvider(ctx, a.prov, orgclient.DialHTTP, a.log)
	if err != nil {
		a.log.Fatalw("list organizations", "err", err)
	}

	// Resolution: path segment, then header, then token claim.
	var lookup resolve.SlugLookup = resolve.ProviderSlugLookup(a.prov)
	lookup = resolve.CachedSlugLookup(a.rdb, lookup, cfg.SlugCacheTTL, a.log)
	lookup = resolve.MemorySlugLookup(lookup, slugCacheSize, cfg.SlugCacheTTL)
	slugs := resolve.SlugParser(lookup)
	a.route = resolve.RouteValue(resolve.ChiRouteValues, cfg.RouteParam, slugs)
	chain := resolve.Chain{
		a.route,
		resolve.Header(cfg.TenantHeader, slugs),
		resolve.Claim(middleware.TokenFrom, cfg.TenantClaim, slugs),
	}
	var fallback uuid.UUID
	if cfg.DefaultOrganization != "" {
		if fallback, err = uuid.Parse(cfg.DefaultOrganization); err != nil {
			a.log.Fatalw("DEFAULT_ORGANIZATION_ID", "value", cfg.DefaultOrganization, "err", err)
		}
	}
	a.reg = orgservice.NewRegistry(chain, fallback, services...)
	return a
}

// connect dials every organization once, bounded by CONNECT_TIMEOUT.
func (a *app) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ConnectTimeout)
	defer cancel()
	a.reg.ConnectAll(ctx)
}

func (a *app) close() {
	if err := a.reg.Close(); err != nil {
		a.log.Warnw("closing organizations", "err", err)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.log.Sync()
}

func organizationProvider(cfg config.Config, pool *pgxpool.Pool, log *zap.SugaredLogger) tenants.Provider {
	switch {
	case pool != nil:
		ctx := context.Background()
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("organizations schema", "err", err)
		}
		if err := tenants.SeedFromEnv(ctx, pool, cfg.OrganizationSeedJSON); err != nil {
			log.Warnw("organization seed", "err", err)
		}
		return tenants.NewPostgresProvider(pool, log)
	case cfg.OrganizationsFile != "":
		prov, err := tenants.NewMemoryProviderFromFile(cfg.OrganizationsFile, log)
		if err != nil {
			log.Fatalw("organizations file", "path", cfg.OrganizationsFile, "err", err)
		}
		return prov
	default:
		return tenants.NewMemoryProviderFromEnv(cfg.OrganizationSeedJSON, log)
	}
}
