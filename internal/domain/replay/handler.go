package replay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/auth"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/reporting"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/pkg/pagination"
)

type Handler struct {
	scenarios    *scenario.Service
	destinations *destination.Service
	manager      *Manager
}

func NewHandler(scenarios *scenario.Service, destinations *destination.Service, manager *Manager) *Handler {
	return &Handler{scenarios: scenarios, destinations: destinations, manager: manager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer))
	read.GET("/scenarios/:id/runs", h.ListRuns)
	read.GET("/runs/:id", h.GetRun)
	read.GET("/runs/:id/steps", h.ListSteps)
	read.GET("/runs/:id/report.xlsx", h.GetReport)

	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.POST("/scenarios/:id/runs", h.StartRuns)
	write.POST("/runs/:id/cancel", h.CancelRun)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type startRequest struct {
	Options
	DestinationID  string   `json:"destination_id"`
	DestinationIDs []string `json:"destination_ids"`
}

// StartRuns starts one background run per destination and answers 202 with
// the created runs. Destinations are referenced by id or name.
func (h *Handler) StartRuns(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	sc, err := h.scenarios.ResolveScenario(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	refs := req.DestinationIDs
	if req.DestinationID != "" {
		refs = append([]string{req.DestinationID}, refs...)
	}
	dests, err := h.resolveDestinations(ctx, refs)
	if err != nil {
		return httpError(err)
	}

	runs, err := h.manager.Start(ctx, sc, dests, req.Options)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"runs": runs})
}

func (h *Handler) resolveDestinations(ctx context.Context, refs []string) ([]*destination.Destination, error) {
	out := make([]*destination.Destination, 0, len(refs))
	for _, ref := range refs {
		d, err := h.destinations.ResolveDestination(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", ref, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()
	sc, err := h.scenarios.ResolveScenario(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	runs, total, err := h.scenarios.ListRuns(ctx, sc.ID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(runs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	run, err := h.scenarios.GetRun(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListSteps(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	logs, err := h.scenarios.ListStepLogs(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (h *Handler) CancelRun(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.manager.Cancel(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	run, err := h.scenarios.GetRun(ctx, id)
	if err != nil {
		return httpError(err)
	}
	sc, err := h.scenarios.GetScenario(ctx, run.ScenarioID)
	if err != nil {
		return httpError(err)
	}
	logs, err := h.scenarios.ListStepLogs(ctx, id)
	if err != nil {
		return httpError(err)
	}
	data, err := Report(sc, run, logs)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="run-%s.xlsx"`, run.ID))
	return c.Blob(http.StatusOK, reporting.ContentType, data)
}
