package httphandler_test

import (
	"context"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/query"
	httphandler "github.com/lllypuk/estately/internal/handler/http"
)

type stubViews struct {
	views      map[string]map[string]any
	noListing  bool
	lastOffset int
	lastLimit  int
}

func newStubViews() *stubViews {
	return &stubViews{views: make(map[string]map[string]any)}
}

func (s *stubViews) Get(_ context.Context, aggregateType, streamID string) (query.View, error) {
	byID, ok := s.views[aggregateType]
	if !ok {
		return query.View{}, appcore.NewValidationError("type", "unknown aggregate type")
	}
	state, ok := byID[streamID]
	if !ok {
		return query.View{}, appcore.NewNotFoundError(aggregateType, streamID)
	}
	return query.View{Type: aggregateType, ID: streamID, Version: 1, State: state}, nil
}

func (s *stubViews) List(_ context.Context, aggregateType string, offset, limit int) ([]query.View, error) {
	s.lastOffset, s.lastLimit = offset, limit
	if s.noListing {
		return nil, query.ErrListingUnavailable
	}
	ids := make([]string, 0, len(s.views[aggregateType]))
	for id := range s.views[aggregateType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]query.View, 0, len(ids))
	for _, id := range ids {
		out = append(out, query.View{Type: aggregateType, ID: id, Version: 1, State: s.views[aggregateType][id]})
	}
	return out, nil
}

func (s *stubViews) Types() []string {
	types := make([]string, 0, len(s.views))
	for t := range s.views {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func TestAggregateHandler_Get(t *testing.T) {
	views := newStubViews()
	views.views["payment"] = map[string]any{"p-1": map[string]any{"status": "PENDING"}}
	r := newRouter(t, httphandler.NewAggregateHandler(views))

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates/payment/p-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[query.View](t, env.Data)
	assert.Equal(t, "payment", view.Type)
	assert.Equal(t, "p-1", view.ID)
	assert.Equal(t, 1, view.Version)
}

func TestAggregateHandler_GetErrors(t *testing.T) {
	views := newStubViews()
	views.views["listing"] = map[string]any{}
	r := newRouter(t, httphandler.NewAggregateHandler(views))

	rec, _ := do(t, r, http.MethodGet, "/api/v1/aggregates/listing/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates/boat/b-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestAggregateHandler_List(t *testing.T) {
	views := newStubViews()
	views.views["user"] = map[string]any{"u-1": map[string]any{}, "u-2": map[string]any{}}
	r := newRouter(t, httphandler.NewAggregateHandler(views))

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates/user?offset=5&limit=20", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[httphandler.ListResponse](t, env.Data)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, views.lastOffset)
	assert.Equal(t, 20, views.lastLimit)
}

func TestAggregateHandler_ListEmpty(t *testing.T) {
	r := newRouter(t, httphandler.NewAggregateHandler(newStubViews()))

	rec, _ := do(t, r, http.MethodGet, "/api/v1/aggregates/user", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestAggregateHandler_ListBadPaging(t *testing.T) {
	r := newRouter(t, httphandler.NewAggregateHandler(newStubViews()))

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates/user?limit=ten", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestAggregateHandler_ListUnavailable(t *testing.T) {
	views := newStubViews()
	views.noListing = true
	r := newRouter(t, httphandler.NewAggregateHandler(views))

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates/user", nil)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "LISTING_UNAVAILABLE", env.Error.Code)
}

func TestAggregateHandler_Types(t *testing.T) {
	views := newStubViews()
	views.views["payment"] = map[string]any{}
	views.views["listing"] = map[string]any{}
	r := newRouter(t, httphandler.NewAggregateHandler(views))

	rec, env := do(t, r, http.MethodGet, "/api/v1/aggregates", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string][]string](t, env.Data)
	assert.Equal(t, []string{"listing", "payment"}, got["types"])
}
