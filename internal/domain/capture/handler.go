package capture

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/auth"
)

type Handler struct {
	c *Capturer
}

func NewHandler(c *Capturer) *Handler {
	return &Handler{c: c}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.POST("/cases/:id/capture", h.Capture)
}

func (h *Handler) Capture(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var opts Options
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sc, err := h.c.Capture(c.Request().Context(), id, opts)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, sc)
}
