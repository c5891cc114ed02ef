package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"orgbridge/internal/orgservice"
	"orgbridge/internal/requests"
	"orgbridge/pkg/orgclient"
)

// badRequest marks caller errors detected before anything is dispatched.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(format string, args ...any) error { return badRequest{msg: fmt.Sprintf(format, args...)} }

type organizationView struct {
	ID    uuid.UUID `json:"id"`
	Slug  string    `json:"slug"`
	Name  string    `json:"name"`
	State string    `json:"state"`
	Ready bool      `json:"ready"`
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	list := s.reg.List()
	out := make([]organizationView, 0, len(list))
	for _, svc := range list {
		out = append(out, organizationView{
			ID:    svc.OrganizationID(),
			Slug:  svc.Slug(),
			Name:  svc.OrganizationName(),
			State: svc.State().String(),
			Ready: svc.IsReady(),
		})
	}
	writeJSON(w, map[string]any{"organizations": out}, http.StatusOK)
}

func (s *Server) whoAmI(w http.ResponseWriter, r *http.Request) {
	res, err := orgservice.Execute[requests.WhoAmIResult](r.Context(), serviceFrom(r.Context()), requests.WhoAmI{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := orgclient.Query{
		EntityName: chi.URLParam(r, "entity"),
		Columns:    columns(qs.Get("select")),
		Filter:     qs.Get("filter"),
		OrderBy:    qs.Get("orderby"),
	}
	var err error
	if q.Top, err = intParam(qs.Get("top")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.PageSize, err = intParam(qs.Get("pagesize")); err != nil {
		s.writeError(w, r, err)
		return
	}
	maxRecords, err := intParam(qs.Get("max"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if maxRecords == 0 || maxRecords > s.cfg.MaxRecords {
		maxRecords = s.cfg.MaxRecords
	}
	var project *projection
	if expr := qs.Get("project"); expr != "" {
		if project, err = compileProjection(expr); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	coll, err := orgservice.Execute[orgclient.EntityCollection](r.Context(), serviceFrom(r.Context()), requests.FetchAll{Query: q, MaxRecords: maxRecords})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if project == nil {
		writeJSON(w, coll, http.StatusOK)
		return
	}
	out, err := project.apply(coll)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := serviceFrom(r.Context()).Retrieve(r.Context(), chi.URLParam(r, "entity"), id, columns(r.URL.Query().Get("select")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, e, http.StatusOK)
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	attrs, err := decodeAttributes(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e := orgclient.Entity{LogicalName: chi.URLParam(r, "entity"), Attributes: attrs}
	svc := serviceFrom(r.Context())
	if r.URL.Query().Get("return") == "representation" {
		created, err := svc.CreateAndReturn(r.Context(), e)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, created, http.StatusCreated)
		return
	}
	id, err := svc.Create(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"id": id}, http.StatusCreated)
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attrs, err := decodeAttributes(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e := orgclient.Entity{LogicalName: chi.URLParam(r, "entity"), ID: id, Attributes: attrs}
	if err := serviceFrom(r.Context()).Update(r.Context(), e); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := serviceFrom(r.Context()).Delete(r.Context(), chi.URLParam(r, "entity"), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []uuid.UUID `json:"ids"`
		State  int         `json:"state"`
		Status int         `json:"status"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.IDs) == 0 {
		s.writeError(w, r, invalid("ids is required"))
		return
	}
	req := requests.SetState{EntityName: chi.URLParam(r, "entity"), IDs: body.IDs, State: body.State, Status: body.Status}
	if err := serviceFrom(r.Context()).Run(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type relationshipBody struct {
	Targets []orgclient.EntityReference `json:"targets"`
}

func (s *Server) relationship(w http.ResponseWriter, r *http.Request, associate bool) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body relationshipBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Targets) == 0 {
		s.writeError(w, r, invalid("targets is required"))
		return
	}
	entity := chi.URLParam(r, "entity")
	rel := orgclient.Relationship{SchemaName: chi.URLParam(r, "relationship")}
	svc := serviceFrom(r.Context())
	if associate {
		err = svc.Associate(r.Context(), entity, id, rel, body.Targets)
	} else {
		err = svc.Disassociate(r.Context(), entity, id, rel, body.Targets)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) associate(w http.ResponseWriter, r *http.Request)    { s.relationship(w, r, true) }
func (s *Server) disassociate(w http.ResponseWriter, r *http.Request) { s.relationship(w, r, false) }

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req orgclient.OrganizationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, r, invalid("name is required"))
		return
	}
	resp, err := serviceFrom(r.Context()).Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func idParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid("invalid id %q", raw)
	}
	return id, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid("invalid number %q", v)
	}
	return n, nil
}

func columns(sel string) orgclient.ColumnSet {
	var cols []string
	for _, c := range strings.Split(sel, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return orgclient.AllColumns()
	}
	return orgclient.Columns(cols...)
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// errBodyTooLarge is returned for bodies over maxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// decodeBody reads one JSON value. Failures come back as errBodyTooLarge or
// as a badRequest.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
	default:
		return invalid("invalid body: %v", err)
	}
}

func decodeAttributes(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var attrs map[string]any
	if err := decodeBody(w, r, &attrs); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, invalid("no attributes")
	}
	return attrs, nil
}

func isBadRequest(err error) bool {
	var br badRequest
	return errors.As(err, &br)
}
