package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// Handler exposes parse and encode endpoints for PAM messages.
type Handler struct {
	defaults      Header
	strictDefault bool
}

// NewHandler creates a handler. defaults fills empty MSH routing fields and
// strictDefault applies when a request does not set strict_profile.
func NewHandler(defaults Header, strictDefault bool) *Handler {
	return &Handler{defaults: defaults, strictDefault: strictDefault}
}

// RegisterRoutes registers the HL7v2 endpoints.
//
//	POST /hl7v2/parse   - parse a raw message to JSON
//	POST /hl7v2/encode  - encode an ADT PAM message from JSON
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
	g.POST("/hl7v2/encode", h.EncodeMessage)
}

type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Value      string     `json:"value"`
	Components []string   `json:"components,omitempty"`
	Repeats    [][]string `json:"repeats,omitempty"`
}

// ParseMessage reads a raw message from the body and returns its structure.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}

	msg, err := Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse HL7v2 message: "+err.Error())
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{Value: f.Value, Components: f.Components, Repeats: f.Repeats}
		}
		segments[i] = segmentJSON{Name: seg.Name, Fields: fields}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"timestamp":    msg.Timestamp.Format("2006-01-02T15:04:05Z"),
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"segments":     segments,
	})
}

type encodeRequest struct {
	ADTMessage
	Strict *bool `json:"strict_profile"`
}

// EncodeMessage encodes the JSON body as an ADT message and returns it as
// text/plain. Conformance failures are 400, unsupported triggers 501.
func (h *Handler) EncodeMessage(c echo.Context) error {
	var req encodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg := req.ADTMessage
	msg.Header = h.withDefaults(msg.Header)
	msg.StrictProfile = ResolveStrictProfile(req.Strict, h.strictDefault)

	data, err := EncodeADT(msg)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.Blob(http.StatusOK, "text/plain", data)
}

func (h *Handler) withDefaults(hdr Header) Header {
	if hdr.SendingApplication == "" {
		hdr.SendingApplication = h.defaults.SendingApplication
	}
	if hdr.SendingFacility == "" {
		hdr.SendingFacility = h.defaults.SendingFacility
	}
	if hdr.ReceivingApplication == "" {
		hdr.ReceivingApplication = h.defaults.ReceivingApplication
	}
	if hdr.ReceivingFacility == "" {
		hdr.ReceivingFacility = h.defaults.ReceivingFacility
	}
	return hdr
}
