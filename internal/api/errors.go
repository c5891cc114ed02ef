package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/middleware"
	"orgbridge/pkg/orgclient"
	"orgbridge/pkg/problems"
)

// errTenantMismatch rejects a token whose tenant claim names another
// organization than the one the request targets.
var errTenantMismatch = errors.New("token is bound to another organization")

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

func problemFor(err error) problems.Problem {
	var apiErr *orgclient.APIError
	switch {
	case errors.Is(err, errBodyTooLarge):
		return problems.New(http.StatusRequestEntityTooLarge, "body-too-large", "Request body too large", err.Error())
	case isBadRequest(err):
		return problems.New(http.StatusBadRequest, "invalid-request", "Invalid request", err.Error())
	case errors.Is(err, errTenantMismatch):
		return problems.New(http.StatusForbidden, "tenant-mismatch", "Tenant mismatch", err.Error())
	case errors.Is(err, orgservice.ErrUnknownOrganization):
		return problems.New(http.StatusNotFound, "unknown-organization", "Unknown organization", "")
	case errors.Is(err, orgservice.ErrNotReady):
		return problems.New(http.StatusServiceUnavailable, "not-ready", "Organization not ready", "")
	case errors.Is(err, context.Canceled):
		return problems.New(statusClientClosedRequest, "canceled", "Request canceled", "")
	case errors.Is(err, context.DeadlineExceeded):
		return problems.New(http.StatusGatewayTimeout, "timeout", "Organization service timed out", "")
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusUnauthorized && apiErr.Status != http.StatusForbidden:
		// the caller asked for something the organization rejects
		return problems.New(apiErr.Status, "organization-rejected", "Rejected by organization service", apiErr.Message)
	default:
		return problems.New(http.StatusBadGateway, "organization-error", "Organization service error", "")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	p.Instance = r.URL.Path
	if p.Status >= http.StatusInternalServerError {
		fields := []any{"path", r.URL.Path, "status", p.Status, "request_id", middleware.RequestIDFrom(r.Context()), "err", err}
		if svc := serviceFrom(r.Context()); svc != nil {
			fields = append(fields, "organization_id", svc.OrganizationID())
		}
		if sub := middleware.ActorSub(r.Context()); sub != "" {
			fields = append(fields, "sub", sub)
		}
		s.log.Warnw("request failed", fields...)
	}
	problems.Write(w, p)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
