package httphandler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recordapp "github.com/lllypuk/estately/internal/application/record"
	"github.com/lllypuk/estately/internal/domain/errs"
	"github.com/lllypuk/estately/internal/domain/record"
	httphandler "github.com/lllypuk/estately/internal/handler/http"
)

type stubRecords struct {
	created  []recordapp.CreateCommand
	updated  []recordapp.UpdateCommand
	archived []recordapp.ArchiveCommand
	err      error
}

func (s *stubRecords) Create(_ context.Context, cmd recordapp.CreateCommand) (recordapp.Result, error) {
	s.created = append(s.created, cmd)
	if s.err != nil {
		return recordapp.Result{}, s.err
	}
	return recordapp.Result{
		Record:  record.State{ID: cmd.ID, Kind: cmd.Kind, Fields: cmd.Fields},
		Version: 1,
		Changed: true,
	}, nil
}

func (s *stubRecords) Update(_ context.Context, cmd recordapp.UpdateCommand) (recordapp.Result, error) {
	s.updated = append(s.updated, cmd)
	if s.err != nil {
		return recordapp.Result{}, s.err
	}
	return recordapp.Result{Record: record.State{ID: cmd.ID, Kind: cmd.Kind, Fields: cmd.Patch}, Version: 2, Changed: true}, nil
}

func (s *stubRecords) Archive(_ context.Context, cmd recordapp.ArchiveCommand) (recordapp.Result, error) {
	s.archived = append(s.archived, cmd)
	if s.err != nil {
		return recordapp.Result{}, s.err
	}
	return recordapp.Result{
		Record:  record.State{ID: cmd.ID, Kind: cmd.Kind, Archived: true, ArchiveReason: cmd.Reason},
		Version: 3,
		Changed: true,
	}, nil
}

func TestRecordHandler_Create(t *testing.T) {
	svc := &stubRecords{}
	r := newRouter(t, httphandler.NewRecordHandler(svc, nil))

	rec, env := do(t, r, http.MethodPost, "/api/v1/records/listing", map[string]any{
		"id":     "l-1",
		"fields": map[string]any{"title": "Flat", "rooms": 2},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	result := decode[recordapp.Result](t, env.Data)
	assert.Equal(t, "l-1", result.Record.ID)
	assert.Equal(t, 1, result.Version)

	require.Len(t, svc.created, 1)
	assert.Equal(t, record.KindListing, svc.created[0].Kind)
	assert.Equal(t, "Flat", svc.created[0].Fields["title"])
}

func TestRecordHandler_CreateUnknownKind(t *testing.T) {
	svc := &stubRecords{}
	r := newRouter(t, httphandler.NewRecordHandler(svc, nil))

	rec, env := do(t, r, http.MethodPost, "/api/v1/records/boat", map[string]any{"fields": map[string]any{"a": 1}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.Empty(t, svc.created)
}

func TestRecordHandler_CreateInvalidBody(t *testing.T) {
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{}, nil))

	rec, env := do(t, r, http.MethodPost, "/api/v1/records/user", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestRecordHandler_CreateExisting(t *testing.T) {
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{err: errs.ErrAlreadyExists}, nil))

	rec, _ := do(t, r, http.MethodPost, "/api/v1/records/user", map[string]any{"id": "u-1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordHandler_Update(t *testing.T) {
	svc := &stubRecords{}
	r := newRouter(t, httphandler.NewRecordHandler(svc, nil))

	rec, env := do(t, r, http.MethodPatch, "/api/v1/records/location/loc-1", map[string]any{
		"fields": map[string]any{"name": "Centre", "old": nil},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	require.Len(t, svc.updated, 1)
	assert.Equal(t, "loc-1", svc.updated[0].ID)
	assert.Equal(t, record.KindLocation, svc.updated[0].Kind)
	assert.Contains(t, svc.updated[0].Patch, "old")
	assert.Nil(t, svc.updated[0].Patch["old"])
}

func TestRecordHandler_UpdateMissing(t *testing.T) {
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{err: errs.ErrNotFound}, nil))

	rec, env := do(t, r, http.MethodPatch, "/api/v1/records/listing/nope", map[string]any{"fields": map[string]any{"a": 1}})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
}

func TestRecordHandler_UpdateArchived(t *testing.T) {
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{err: errs.ErrInvalidState}, nil))

	rec, _ := do(t, r, http.MethodPatch, "/api/v1/records/listing/l-1", map[string]any{"fields": map[string]any{"a": 1}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRecordHandler_Archive(t *testing.T) {
	t.Run("with reason", func(t *testing.T) {
		svc := &stubRecords{}
		r := newRouter(t, httphandler.NewRecordHandler(svc, nil))

		rec, env := do(t, r, http.MethodDelete, "/api/v1/records/listing/l-1", map[string]any{"reason": "sold"})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decode[recordapp.Result](t, env.Data)
		assert.True(t, result.Record.Archived)
		require.Len(t, svc.archived, 1)
		assert.Equal(t, "sold", svc.archived[0].Reason)
	})

	t.Run("without body", func(t *testing.T) {
		svc := &stubRecords{}
		r := newRouter(t, httphandler.NewRecordHandler(svc, nil))

		rec, _ := do(t, r, http.MethodDelete, "/api/v1/records/user/u-1", nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, svc.archived, 1)
		assert.Empty(t, svc.archived[0].Reason)
	})
}

func TestRecordHandler_ListRequiresViews(t *testing.T) {
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{}, nil))

	rec, _ := do(t, r, http.MethodGet, "/api/v1/records/listing", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecordHandler_List(t *testing.T) {
	views := newStubViews()
	views.views["listing"] = map[string]any{"l-1": map[string]any{"title": "Flat"}}
	r := newRouter(t, httphandler.NewRecordHandler(&stubRecords{}, views))

	rec, env := do(t, r, http.MethodGet, "/api/v1/records/listing?limit=10", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[httphandler.ListResponse](t, env.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "l-1", page.Items[0].ID)
	assert.Equal(t, 10, page.Limit)
}
