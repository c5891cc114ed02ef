package orgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIError is a non-2xx answer from the organization service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("organization service: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("organization service: %d: %s", e.Status, e.Message)
}

// httpClient speaks a small OData flavoured JSON protocol:
// {base}/api/data/{version}/{entity}({id}).
type httpClient struct {
	base   string
	token  string
	http   *http.Client
	orgID  uuid.UUID
	ready  bool
	err    error
	closed atomic.Bool
}

// DialHTTP parses the connection string and performs the WhoAmI handshake.
// Handshake failures are recorded on the returned client (LastError, not
// ready); only an unusable connection string is returned as an error.
func DialHTTP(ctx context.Context, connectionString string, opts DialOptions) (Client, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Timeout:   cs.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	if opts.EnableAffinityCookie {
		jar, _ := cookiejar.New(nil)
		hc.Jar = jar
	}
	c := &httpClient{
		base:  strings.TrimRight(cs.URL.String(), "/") + "/api/data/" + cs.APIVersion,
		token: cs.Token,
		http:  hc,
	}
	var who struct {
		OrganizationID string `json:"OrganizationId"`
	}
	if err := c.do(ctx, http.MethodGet, c.base+"/WhoAmI", nil, nil, &who); err != nil {
		c.err = err
		return c, nil
	}
	id, err := uuid.Parse(who.OrganizationID)
	if err != nil {
		c.err = fmt.Errorf("whoami: invalid OrganizationId %q: %w", who.OrganizationID, err)
		return c, nil
	}
	c.orgID = id
	c.ready = true
	return c, nil
}

func (c *httpClient) IsReady() bool             { return c.ready && !c.closed.Load() }
func (c *httpClient) LastError() error          { return c.err }
func (c *httpClient) ConnectedOrgID() uuid.UUID { return c.orgID }

func (c *httpClient) Close() error {
	c.closed.Store(true)
	c.http.CloseIdleConnections()
	return nil
}

func (c *httpClient) recordURL(entityName string, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s(%s)", c.base, url.PathEscape(entityName), id)
}

func (c *httpClient) Execute(ctx context.Context, req OrganizationRequest) (OrganizationResponse, error) {
	if req.Name == "" {
		return OrganizationResponse{}, fmt.Errorf("execute: request name is required")
	}
	method := http.MethodPost
	var body any = req.Parameters
	if len(req.Parameters) == 0 {
		// functions without parameters are exposed as GET
		method, body = http.MethodGet, nil
	}
	results := map[string]any{}
	if err := c.do(ctx, method, c.base+"/"+url.PathEscape(req.Name), body, nil, &results); err != nil {
		return OrganizationResponse{}, err
	}
	delete(results, "@odata.context")
	return OrganizationResponse{Name: req.Name, Results: results}, nil
}

func (c *httpClient) Retrieve(ctx context.Context, entityName string, id uuid.UUID, cols ColumnSet) (Entity, error) {
	u := c.recordURL(entityName, id)
	if q := selectQuery(cols); q != "" {
		u += "?" + q
	}
	attrs := map[string]any{}
	if err := c.do(ctx, http.MethodGet, u, nil, nil, &attrs); err != nil {
		return Entity{}, err
	}
	return toEntity(entityName, attrs), nil
}

func (c *httpClient) RetrieveMultiple(ctx context.Context, q Query) (EntityCollection, error) {
	u := q.PagingCookie
	if u == "" {
		vals := url.Values{}
		if s := selectQuery(q.Columns); s != "" {
			vals.Set("$select", strings.TrimPrefix(s, "$select="))
		}
		if q.Filter != "" {
			vals.Set("$filter", q.Filter)
		}
		if q.OrderBy != "" {
			vals.Set("$orderby", q.OrderBy)
		}
		if q.Top > 0 {
			vals.Set("$top", strconv.Itoa(q.Top))
		}
		u = c.base + "/" + url.PathEscape(q.EntityName)
		if enc := vals.Encode(); enc != "" {
			u += "?" + enc
		}
	} else if !strings.HasPrefix(u, c.base) {
		return EntityCollection{}, fmt.Errorf("retrieve multiple: paging cookie does not belong to this organization")
	}
	hdr := http.Header{}
	if q.PageSize > 0 {
		hdr.Set("Prefer", "odata.maxpagesize="+strconv.Itoa(q.PageSize))
	}
	var page struct {
		Value    []map[string]any `json:"value"`
		NextLink string           `json:"@odata.nextLink"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, hdr, &page); err != nil {
		return EntityCollection{}, err
	}
	out := EntityCollection{EntityName: q.EntityName, Entities: make([]Entity, 0, len(page.Value))}
	for _, attrs := range page.Value {
		out.Entities = append(out.Entities, toEntity(q.EntityName, attrs))
	}
	if page.NextLink != "" {
		out.MoreRecords = true
		out.PagingCookie = page.NextLink
	}
	return out, nil
}

var entityIDRe = regexp.MustCompile(`\(([0-9a-fA-F-]{36})\)\s*$`)

func (c *httpClient) Create(ctx context.Context, e Entity) (uuid.UUID, error) {
	resp, err := c.send(ctx, http.MethodPost, c.base+"/"+url.PathEscape(e.LogicalName), e.Attributes, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()
	m := entityIDRe.FindStringSubmatch(resp.Header.Get("OData-EntityId"))
	if m == nil {
		return uuid.Nil, fmt.Errorf("create: response carried no entity id")
	}
	return uuid.Parse(m[1])
}

func (c *httpClient) CreateAndReturn(ctx context.Context, e Entity) (Entity, error) {
	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")
	attrs := map[string]any{}
	if err := c.do(ctx, http.MethodPost, c.base+"/"+url.PathEscape(e.LogicalName), e.Attributes, hdr, &attrs); err != nil {
		return Entity{}, err
	}
	return toEntity(e.LogicalName, attrs), nil
}

func (c *httpClient) Update(ctx context.Context, e Entity) error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("update: entity id is required")
	}
	hdr := http.Header{}
	hdr.Set("If-Match", "*")
	return c.do(ctx, http.MethodPatch, c.recordURL(e.LogicalName, e.ID), e.Attributes, hdr, nil)
}

func (c *httpClient) Delete(ctx context.Context, entityName string, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, c.recordURL(entityName, id), nil, nil, nil)
}

func (c *httpClient) Associate(ctx context.Context, entityName string, id uuid.UUID, rel Relationship, related []EntityReference) error {
	base := c.recordURL(entityName, id) + "/" + url.PathEscape(rel.SchemaName) + "/$ref"
	for _, r := range related {
		body := map[string]any{"@odata.id": c.recordURL(r.LogicalName, r.ID)}
		if err := c.do(ctx, http.MethodPost, base, body, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *httpClient) Disassociate(ctx context.Context, entityName string, id uuid.UUID, rel Relationship, related []EntityReference) error {
	for _, r := range related {
		u := fmt.Sprintf("%s/%s(%s)/$ref", c.recordURL(entityName, id), url.PathEscape(rel.SchemaName), r.ID)
		if err := c.do(ctx, http.MethodDelete, u, nil, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// do sends a request and decodes a JSON body into out when out is non-nil.
func (c *httpClient) do(ctx context.Context, method, u string, body any, hdr http.Header, out any) error {
	resp, err := c.send(ctx, method, u, body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s %s: decode: %w", method, u, err)
	}
	return nil
}

func (c *httpClient) send(ctx context.Context, method, u string, body any, hdr http.Header) (*http.Response, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("organization client is closed")
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// keep context errors recognisable for callers
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil && payload.Error.Message != "" {
		apiErr.Code, apiErr.Message = payload.Error.Code, payload.Error.Message
	}
	return apiErr
}

func selectQuery(cols ColumnSet) string {
	if cols.AllColumns || len(cols.Columns) == 0 {
		return ""
	}
	return "$select=" + strings.Join(cols.Columns, ",")
}

func toEntity(entityName string, attrs map[string]any) Entity {
	e := Entity{LogicalName: entityName, Attributes: map[string]any{}}
	for k, v := range attrs {
		if strings.HasPrefix(k, "@odata.") {
			continue
		}
		e.Attributes[k] = v
	}
	if s, ok := attrs[e.PrimaryKey()].(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			e.ID = id
		}
	}
	return e
}
