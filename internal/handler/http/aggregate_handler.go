package httphandler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/query"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
)

// ViewService defines the read-only query ingress.
// Declared on the consumer side per project guidelines.
type ViewService interface {
	Get(ctx context.Context, aggregateType, streamID string) (query.View, error)
	List(ctx context.Context, aggregateType string, offset, limit int) ([]query.View, error)
	Types() []string
}

// ListResponse is a page of views.
type ListResponse struct {
	Items  []query.View `json:"items"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// AggregateHandler serves projections of any registered aggregate type.
type AggregateHandler struct {
	views ViewService
}

// NewAggregateHandler creates a new AggregateHandler.
func NewAggregateHandler(views ViewService) *AggregateHandler {
	return &AggregateHandler{views: views}
}

// RegisterRoutes registers query routes with the router.
func (h *AggregateHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().GET("/aggregates", h.Types)
	r.API().GET("/aggregates/:type", h.List)
	r.API().GET("/aggregates/:type/:id", h.Get)
}

// Get handles GET /api/v1/aggregates/:type/:id. The view is projected from the
// log (through the state cache) and never appends.
func (h *AggregateHandler) Get(c echo.Context) error {
	view, err := h.views.Get(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondOK(c, view)
}

// List handles GET /api/v1/aggregates/:type?offset=&limit=.
func (h *AggregateHandler) List(c echo.Context) error {
	return listViews(c, h.views, c.Param("type"))
}

// Types handles GET /api/v1/aggregates.
func (h *AggregateHandler) Types(c echo.Context) error {
	return httpserver.RespondOK(c, map[string][]string{"types": h.views.Types()})
}

func listViews(c echo.Context, views ViewService, aggregateType string) error {
	offset, err := intQuery(c, "offset")
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return httpserver.RespondError(c, err)
	}

	items, err := views.List(c.Request().Context(), aggregateType, offset, limit)
	if errors.Is(err, query.ErrListingUnavailable) {
		return httpserver.RespondErrorWithCode(c, http.StatusNotImplemented, "LISTING_UNAVAILABLE",
			"read models are not configured")
	}
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	if items == nil {
		items = []query.View{}
	}
	return httpserver.RespondOK(c, ListResponse{Items: items, Offset: offset, Limit: limit})
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appcore.NewValidationError(name, "must be an integer")
	}
	return v, nil
}
