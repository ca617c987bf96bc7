package materialize

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/auth"
)

type Handler struct {
	m *Materializer
}

func NewHandler(m *Materializer) *Handler {
	return &Handler{m: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.POST("/templates/:key/materialize", h.Materialize)
}

type materializeRequest struct {
	Options
	GenerateIdentifiers *bool `json:"generate_identifiers"`
}

// Materialize creates a scenario from the template. Identifiers are
// generated unless generate_identifiers is false.
func (h *Handler) Materialize(c echo.Context) error {
	var req materializeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	opts := req.Options
	opts.GenerateIdentifiers = req.GenerateIdentifiers == nil || *req.GenerateIdentifiers

	sc, err := h.m.Materialize(c.Request().Context(), c.Param("key"), opts)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, sc)
}
