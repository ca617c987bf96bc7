package scenario

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(NewService(NewMemoryStore())), echo.New()
}

func TestHandler_ImportScenario(t *testing.T) {
	h, e := newTestHandler()
	body := `{"key":"imp","name":"Imported","protocol":"legacy","steps":[{"order_index":1,"message_type":"ADT^A01","payload":"MSH|^~\\&|A\rEVN|A01"}]}`
	req := httptest.NewRequest(http.MethodPost, "/scenarios/import", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ImportScenario(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Scenario
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Steps[0].Payload != "MSH|^~\\&|A\rEVN|A01" {
		t.Errorf("payload altered: %q", got.Steps[0].Payload)
	}
}

func TestHandler_ImportScenario_Errors(t *testing.T) {
	h, e := newTestHandler()
	doc := `{"key":"dup","name":"n","protocol":"legacy","steps":[{"order_index":1,"message_type":"ADT^A01","payload":"x"}]}`
	if _, err := h.svc.ImportScenario(context.Background(), []byte(doc), ""); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing steps", `{"key":"k","name":"n","protocol":"legacy"}`, http.StatusBadRequest},
		{"duplicate key", doc, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/scenarios/import", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			err := h.ImportScenario(e.NewContext(req, rec))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, httpErr.Code)
			}
		})
	}
}

func TestHandler_ExportScenario(t *testing.T) {
	h, e := newTestHandler()
	sc := validScenario()
	if err := h.svc.CreateScenario(context.Background(), sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sc.ID.String())

	if err := h.ExportScenario(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "demo.json") {
		t.Errorf("unexpected content disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
	var doc Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Key != "demo" || len(doc.Steps) != 2 {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestHandler_GetScenario_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetScenario(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListTemplates(t *testing.T) {
	h, e := newTestHandler()
	templates, _ := DefaultCatalog()
	if _, err := h.svc.SeedCatalog(context.Background(), templates); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/templates?limit=2", nil)
	rec := httptest.NewRecorder()
	if err := h.ListTemplates(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Template `json:"data"`
		Total   int        `json:"total"`
		HasMore bool       `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Total != len(templates) || !resp.HasMore {
		t.Errorf("unexpected page: %d items, total %d, has_more %v", len(resp.Data), resp.Total, resp.HasMore)
	}
}
