package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orgbridge/internal/orgservice"
	"orgbridge/pkg/orgclient"
)

// stubHandle serves canned pages and records updates.
type stubHandle struct {
	orgservice.Handle // unimplemented methods panic

	orgID     uuid.UUID
	results   map[string]any
	pages     []orgclient.EntityCollection
	queries   []orgclient.Query
	updated   []orgclient.Entity
	updateErr map[uuid.UUID]error
	execErr   error
}

func (s *stubHandle) OrganizationID() uuid.UUID { return s.orgID }

func (s *stubHandle) Execute(_ context.Context, req orgclient.OrganizationRequest) (orgclient.OrganizationResponse, error) {
	if s.execErr != nil {
		return orgclient.OrganizationResponse{}, s.execErr
	}
	return orgclient.OrganizationResponse{Name: req.Name, Results: s.results}, nil
}

func (s *stubHandle) RetrieveMultiple(_ context.Context, q orgclient.Query) (orgclient.EntityCollection, error) {
	s.queries = append(s.queries, q)
	if len(s.queries) > len(s.pages) {
		return orgclient.EntityCollection{}, errors.New("no more pages")
	}
	return s.pages[len(s.queries)-1], nil
}

func (s *stubHandle) Update(_ context.Context, e orgclient.Entity) error {
	if err := s.updateErr[e.ID]; err != nil {
		return err
	}
	s.updated = append(s.updated, e)
	return nil
}

func entities(n int) []orgclient.Entity {
	out := make([]orgclient.Entity, n)
	for i := range out {
		out[i] = orgclient.Entity{LogicalName: "account", ID: uuid.New()}
	}
	return out
}

var nop = zap.NewNop().Sugar()

func TestWhoAmI(t *testing.T) {
	org, user, bu := uuid.New(), uuid.New(), uuid.New()
	h := &stubHandle{orgID: org, results: map[string]any{
		"UserId": user.String(), "BusinessUnitId": bu.String(), "OrganizationId": org.String(),
	}}

	got, err := WhoAmI{}.Execute(context.Background(), h, nop)
	require.NoError(t, err)
	assert.Equal(t, WhoAmIResult{UserID: user, BusinessUnitID: bu, OrganizationID: org}, got)

	h.results["UserId"] = "bogus"
	_, err = WhoAmI{}.Execute(context.Background(), h, nop)
	assert.ErrorContains(t, err, "UserId")

	h.execErr = orgservice.ErrNotReady
	_, err = WhoAmI{}.Execute(context.Background(), h, nop)
	assert.ErrorIs(t, err, orgservice.ErrNotReady)
}

func TestFetchAllFollowsPaging(t *testing.T) {
	h := &stubHandle{pages: []orgclient.EntityCollection{
		{Entities: entities(2), MoreRecords: true, PagingCookie: "page-2"},
		{Entities: entities(2), MoreRecords: true, PagingCookie: "page-3"},
		{Entities: entities(1)},
	}}
	got, err := FetchAll{Query: orgclient.Query{EntityName: "account", PageSize: 2}}.Execute(context.Background(), h, nop)
	require.NoError(t, err)

	assert.Len(t, got.Entities, 5)
	assert.False(t, got.MoreRecords)
	require.Len(t, h.queries, 3)
	assert.Equal(t, "", h.queries[0].PagingCookie)
	assert.Equal(t, "page-2", h.queries[1].PagingCookie)
	assert.Equal(t, "page-3", h.queries[2].PagingCookie)
}

func TestFetchAllMaxRecords(t *testing.T) {
	h := &stubHandle{pages: []orgclient.EntityCollection{
		{Entities: entities(3), MoreRecords: true, PagingCookie: "page-2"},
		{Entities: entities(3), MoreRecords: true, PagingCookie: "page-3"},
	}}
	got, err := FetchAll{Query: orgclient.Query{EntityName: "account"}, MaxRecords: 4}.Execute(context.Background(), h, nop)
	require.NoError(t, err)
	assert.Len(t, got.Entities, 4)
	assert.True(t, got.MoreRecords)
	assert.Len(t, h.queries, 2)
}

func TestFetchAllStopsOnError(t *testing.T) {
	h := &stubHandle{pages: []orgclient.EntityCollection{
		{Entities: entities(1), MoreRecords: true, PagingCookie: "page-2"},
	}}
	_, err := FetchAll{Query: orgclient.Query{EntityName: "account"}}.Execute(context.Background(), h, nop)
	assert.EqualError(t, err, "no more pages")
}

func TestSetState(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	h := &stubHandle{updateErr: map[uuid.UUID]error{ids[1]: orgservice.ErrNotReady}}

	err := SetState{EntityName: "account", IDs: ids, State: 1, Status: 2}.Execute(context.Background(), h, nop)

	assert.ErrorIs(t, err, orgservice.ErrNotReady)
	require.Len(t, h.updated, 1)
	assert.Equal(t, ids[0], h.updated[0].ID)
	assert.Equal(t, map[string]any{"statecode": 1, "statuscode": 2}, h.updated[0].Attributes)
}
