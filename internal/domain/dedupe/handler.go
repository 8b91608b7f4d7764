package dedupe

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pih/dupfinder/internal/platform/auth"
	"github.com/pih/dupfinder/internal/platform/db"
	"github.com/pih/dupfinder/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the report routes on api. runMW wraps only the
// evaluation route, which is the one that scans the site's patients.
func (h *Handler) RegisterRoutes(api *echo.Group, runMW ...echo.MiddlewareFunc) {
	g := api.Group("", auth.RequireRole("admin", "data_manager"))
	g.GET("/reports/duplicates", h.ListDefinitions)
	g.GET("/reports/duplicates/:id", h.EvaluateDefinition, runMW...)
	g.GET("/phonetic", h.Encode)
}

func (h *Handler) ListDefinitions(c echo.Context) error {
	defs := h.svc.Definitions()
	return c.JSON(http.StatusOK, pagination.NewResponse(defs, len(defs), len(defs), 0))
}

func (h *Handler) EvaluateDefinition(c echo.Context) error {
	var ov Overrides
	var extra []string
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		ov.Limit = n
		extra = append(extra, "limit="+v)
	}
	if v := c.QueryParam("swap"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "swap must be true or false")
		}
		ov.Swap = &b
		extra = append(extra, "swap="+strconv.FormatBool(b))
	}

	ctx := c.Request().Context()
	// a site-scoped connection cannot be shared between workers
	if db.ConnFromContext(ctx) != nil {
		ov.Workers = 1
	}

	ds, err := h.svc.Evaluate(ctx, c.Param("id"), ov)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "report definition not found")
		}
		if errors.Is(err, ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "report evaluation failed")
	}

	pg := pagination.FromContext(c)
	total := len(ds.Rows)
	start, end := pg.Window(total)
	page := *ds
	page.Rows = ds.Rows[start:end]

	resp := pagination.NewResponse(&page, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, strings.Join(extra, "&"), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Encode(c echo.Context) error {
	name := c.QueryParam("name")
	if strings.TrimSpace(name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"name": name,
		"code": h.svc.Encode(name),
	})
}
