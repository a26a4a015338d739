// Package httphandler holds the echo handlers of the command, query and webhook ingress.
package httphandler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/estately/internal/application/appcore"
	recordapp "github.com/lllypuk/estately/internal/application/record"
	"github.com/lllypuk/estately/internal/domain/record"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
)

// RecordService defines the interface for record commands.
// Declared on the consumer side per project guidelines.
type RecordService interface {
	Create(ctx context.Context, cmd recordapp.CreateCommand) (recordapp.Result, error)
	Update(ctx context.Context, cmd recordapp.UpdateCommand) (recordapp.Result, error)
	Archive(ctx context.Context, cmd recordapp.ArchiveCommand) (recordapp.Result, error)
}

// CreateRecordRequest is the body of POST /records/:kind.
type CreateRecordRequest struct {
	ID       string         `json:"id"`
	Fields   map[string]any `json:"fields"`
	ParentID string         `json:"parentId"`
}

// UpdateRecordRequest is the body of PATCH /records/:kind/:id.
type UpdateRecordRequest struct {
	Fields map[string]any `json:"fields"`
}

// ArchiveRecordRequest is the optional body of DELETE /records/:kind/:id.
type ArchiveRecordRequest struct {
	Reason string `json:"reason"`
}

// RecordHandler handles record commands and listing.
type RecordHandler struct {
	records RecordService
	views   ViewService
}

// NewRecordHandler creates a new RecordHandler. views serves GET lists and may be nil.
func NewRecordHandler(records RecordService, views ViewService) *RecordHandler {
	return &RecordHandler{records: records, views: views}
}

// RegisterRoutes registers record routes with the router.
func (h *RecordHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().POST("/records/:kind", h.Create)
	r.API().PATCH("/records/:kind/:id", h.Update)
	r.API().DELETE("/records/:kind/:id", h.Archive)
	if h.views != nil {
		r.API().GET("/records/:kind", h.List)
	}
}

// Create handles POST /api/v1/records/:kind.
func (h *RecordHandler) Create(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return httpserver.RespondError(c, err)
	}

	var req CreateRecordRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
	}

	result, err := h.records.Create(c.Request().Context(), recordapp.CreateCommand{
		Kind:     kind,
		ID:       req.ID,
		Fields:   req.Fields,
		ParentID: req.ParentID,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondCreated(c, result)
}

// Update handles PATCH /api/v1/records/:kind/:id.
func (h *RecordHandler) Update(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return httpserver.RespondError(c, err)
	}

	var req UpdateRecordRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
	}

	result, err := h.records.Update(c.Request().Context(), recordapp.UpdateCommand{
		Kind:  kind,
		ID:    c.Param("id"),
		Patch: req.Fields,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondOK(c, result)
}

// Archive handles DELETE /api/v1/records/:kind/:id. Records are archived, never removed.
func (h *RecordHandler) Archive(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return httpserver.RespondError(c, err)
	}

	var req ArchiveRecordRequest
	if c.Request().ContentLength > 0 {
		if bindErr := c.Bind(&req); bindErr != nil {
			return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		}
	}

	result, err := h.records.Archive(c.Request().Context(), recordapp.ArchiveCommand{
		Kind:   kind,
		ID:     c.Param("id"),
		Reason: req.Reason,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondOK(c, result)
}

// List handles GET /api/v1/records/:kind.
func (h *RecordHandler) List(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return listViews(c, h.views, kind.String())
}

func parseKind(c echo.Context) (record.Kind, error) {
	kind, err := record.ParseKind(c.Param("kind"))
	if err != nil {
		return "", appcore.NewValidationError("kind", "must be one of: listing, user, location")
	}
	return kind, nil
}
