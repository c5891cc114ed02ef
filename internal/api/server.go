// Package api exposes the organization services over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/config"
	"orgbridge/pkg/middleware"
	"orgbridge/pkg/openapi"
	"orgbridge/pkg/resolve"
)

const (
	scopeRead  = "orgs:read"
	scopeWrite = "orgs:write"

	defaultMaxRecords = 5000
)

// Server holds the shared dependencies of the HTTP handlers.
type Server struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	reg     *orgservice.Registry
	route   resolve.Resolver // resolves {org} only, never falls back
	spec    *openapi.Registry
	version string
}

// New builds a Server. route resolves the {org} path segment; requests under
// /api go through the registry's full resolver chain instead.
func New(cfg config.Config, log *zap.SugaredLogger, reg *orgservice.Registry, route resolve.Resolver, version string) *Server {
	if cfg.RouteParam == "" {
		cfg.RouteParam = "org"
	}
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = "tid"
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	s := &Server{cfg: cfg, log: log, reg: reg, route: route, spec: openapi.NewRegistry(), version: version}
	s.spec.Scopes[scopeRead] = "Read organization data"
	s.spec.Scopes[scopeWrite] = "Modify organization data"
	s.describe()
	return s
}

// Handler builds the HTTP handler with routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(s.log))
	r.Use(middleware.DebugWriteHeader(s.cfg.DebugDoubleWrite, s.log))
	r.Use(middleware.Tracing(s.cfg, s.log))
	r.Use(resolve.Middleware())
	r.Use(middleware.JWTAuth(s.cfg, s.log))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/openapi.json", s.spec.ServeHandler("orgbridge", s.version))

	r.With(middleware.RequireScope(scopeRead)).Get("/orgs", s.listOrganizations)
	r.Route("/orgs/{"+s.cfg.RouteParam+"}", func(or chi.Router) {
		or.Use(s.pinned)
		s.organizationRoutes(or)
	})
	r.Route("/api", func(ar chi.Router) {
		ar.Use(s.resolved)
		s.organizationRoutes(ar)
	})
	return r
}

func (s *Server) organizationRoutes(r chi.Router) {
	r.Group(func(rr chi.Router) {
		rr.Use(middleware.RequireScope(scopeRead, scopeWrite))
		rr.Get("/whoami", s.whoAmI)
		rr.Get("/entities/{entity}", s.listEntities)
		rr.Get("/entities/{entity}/{id}", s.getEntity)
	})
	r.Group(func(rw chi.Router) {
		rw.Use(middleware.RequireScope(scopeWrite))
		rw.Post("/entities/{entity}", s.createEntity)
		rw.Patch("/entities/{entity}/{id}", s.updateEntity)
		rw.Delete("/entities/{entity}/{id}", s.deleteEntity)
		rw.Post("/entities/{entity}/state", s.setState)
		rw.Post("/entities/{entity}/{id}/relationships/{relationship}", s.associate)
		rw.Delete("/entities/{entity}/{id}/relationships/{relationship}", s.disassociate)
		rw.Post("/execute", s.execute)
	})
}

type ctxServiceKey struct{}

func withService(ctx context.Context, svc *orgservice.Service) context.Context {
	return context.WithValue(ctx, ctxServiceKey{}, svc)
}

func serviceFrom(ctx context.Context) *orgservice.Service {
	svc, _ := ctx.Value(ctxServiceKey{}).(*orgservice.Service)
	return svc
}

// pinned selects the organization named in the path. Unknown ids and slugs
// are 404s; the default organization never stands in for them.
func (s *Server) pinned(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var svc *orgservice.Service
		if s.route != nil {
			if id, ok := s.route.Resolve(r.Context()); ok {
				svc, _ = s.reg.Get(id)
			}
		}
		if svc == nil {
			s.writeError(w, r, orgservice.ErrUnknownOrganization)
			return
		}
		if !s.tenantAllowed(r, svc) {
			s.writeError(w, r, errTenantMismatch)
			return
		}
		next.ServeHTTP(w, r.WithContext(withService(r.Context(), svc)))
	})
}

// resolved selects the organization through the registry (header, token
// claim, default organization).
func (s *Server) resolved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc, err := s.reg.For(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !s.tenantAllowed(r, svc) {
			s.writeError(w, r, errTenantMismatch)
			return
		}
		next.ServeHTTP(w, r.WithContext(withService(r.Context(), svc)))
	})
}

// tenantAllowed reports whether the verified token may act on svc. A token
// that names a tenant (by id or slug) is bound to it; tokens without the
// claim, and unauthenticated dev requests, are not restricted.
func (s *Server) tenantAllowed(r *http.Request, svc *orgservice.Service) bool {
	tok := middleware.TokenFrom(r.Context())
	if tok == nil {
		return true
	}
	v, ok := tok.Get(s.cfg.TenantClaim)
	if !ok {
		return true
	}
	raw := strings.TrimSpace(fmt.Sprint(v))
	if raw == "" {
		return true
	}
	if id, ok := resolve.ParseUUID(r.Context(), raw); ok {
		return id == svc.OrganizationID()
	}
	return svc.Slug() != "" && strings.EqualFold(raw, svc.Slug())
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	ready := 0
	list := s.reg.List()
	for _, svc := range list {
		if svc.IsReady() {
			ready++
		}
	}
	writeJSON(w, map[string]any{"ok": true, "organizations": len(list), "ready": ready}, http.StatusOK)
}

func (s *Server) describe() {
	org := openapi.Parameter{Name: s.cfg.RouteParam, In: "path", Description: "organization id or slug"}
	entity := openapi.Parameter{Name: "entity", In: "path", Description: "table logical name"}
	id := openapi.Parameter{Name: "id", In: "path"}
	rel := openapi.Parameter{Name: "relationship", In: "path", Description: "relationship schema name"}
	errs := map[string]any{
		"403": openapi.Problem("token bound to another organization or missing scope"),
		"404": openapi.Problem("unknown organization"),
		"503": openapi.Problem("organization not ready"),
		"502": openapi.Problem("organization service error"),
	}
	with := func(extra map[string]any) map[string]any {
		out := map[string]any{}
		for k, v := range errs {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	base := "/orgs/{" + s.cfg.RouteParam + "}"
	ops := []openapi.Operation{
		{Method: "GET", Path: "/orgs", Summary: "List configured organizations", Scopes: []string{scopeRead}, Responses: map[string]any{"200": openapi.JSON("organizations")}},
		{Method: "GET", Path: base + "/whoami", Summary: "Identity of the connection", Scopes: []string{scopeRead}, Parameters: []openapi.Parameter{org}, Responses: with(map[string]any{"200": openapi.JSON("identity")})},
		{Method: "GET", Path: base + "/entities/{entity}", Summary: "List records", Scopes: []string{scopeRead}, Parameters: []openapi.Parameter{
			org, entity,
			{Name: "filter", In: "query"}, {Name: "select", In: "query"}, {Name: "orderby", In: "query"},
			{Name: "top", In: "query"}, {Name: "max", In: "query", Description: "record limit, capped by the server"},
			{Name: "project", In: "query", Description: "JMESPath expression applied to the collection"},
		}, Responses: with(map[string]any{"200": openapi.JSON("records")})},
		{Method: "POST", Path: base + "/entities/{entity}", Summary: "Create a record", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity, {Name: "return", In: "query", Description: "representation"}}, Responses: with(map[string]any{"201": openapi.JSON("created")})},
		{Method: "GET", Path: base + "/entities/{entity}/{id}", Summary: "Retrieve a record", Scopes: []string{scopeRead}, Parameters: []openapi.Parameter{org, entity, id, {Name: "select", In: "query"}}, Responses: with(map[string]any{"200": openapi.JSON("record")})},
		{Method: "PATCH", Path: base + "/entities/{entity}/{id}", Summary: "Update a record", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity, id}, Responses: with(map[string]any{"204": map[string]any{"description": "updated"}})},
		{Method: "DELETE", Path: base + "/entities/{entity}/{id}", Summary: "Delete a record", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity, id}, Responses: with(map[string]any{"204": map[string]any{"description": "deleted"}})},
		{Method: "POST", Path: base + "/entities/{entity}/state", Summary: "Set state of several records", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity}, Responses: with(map[string]any{"204": map[string]any{"description": "updated"}})},
		{Method: "POST", Path: base + "/entities/{entity}/{id}/relationships/{relationship}", Summary: "Associate records", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity, id, rel}, Responses: with(map[string]any{"204": map[string]any{"description": "associated"}})},
		{Method: "DELETE", Path: base + "/entities/{entity}/{id}/relationships/{relationship}", Summary: "Disassociate records", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org, entity, id, rel}, Responses: with(map[string]any{"204": map[string]any{"description": "disassociated"}})},
		{Method: "POST", Path: base + "/execute", Summary: "Execute an organization request", Scopes: []string{scopeWrite}, Parameters: []openapi.Parameter{org}, Responses: with(map[string]any{"200": openapi.JSON("response")})},
	}
	for _, op := range ops {
		op.Tags = []string{"organizations"}
		s.spec.Register(op)
	}
	s.spec.Register(openapi.Operation{Method: "GET", Path: "/healthz", Tags: []string{"ops"}, Responses: map[string]any{"200": openapi.JSON("health")}})
}
