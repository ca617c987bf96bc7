package destination

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/auth"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer))
	read.GET("/destinations", h.ListDestinations)
	read.GET("/destinations/:id", h.GetDestination)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/destinations", h.CreateDestination)
	write.PUT("/destinations/:id", h.UpdateDestination)
	write.DELETE("/destinations/:id", h.DeleteDestination)
}

type destinationRequest struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	BaseURL       string `json:"base_url"`
	StrictProfile *bool  `json:"strict_profile"`
	TimeoutMS     *int   `json:"timeout_ms"`
	Active        *bool  `json:"active"`
}

func (r destinationRequest) apply(d *Destination) {
	d.Name = r.Name
	d.Kind = r.Kind
	d.Host = r.Host
	d.Port = r.Port
	d.BaseURL = r.BaseURL
	d.StrictProfile = r.StrictProfile
	d.TimeoutMS = r.TimeoutMS
	d.Active = r.Active == nil || *r.Active
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func (h *Handler) CreateDestination(c echo.Context) error {
	var req destinationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var d Destination
	req.apply(&d)
	if err := h.svc.CreateDestination(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDestination(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDestination(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDestinations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDestinations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDestination(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req destinationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d := Destination{ID: id}
	req.apply(&d)
	if err := h.svc.UpdateDestination(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDestination(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDestination(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
