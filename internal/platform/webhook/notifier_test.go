package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/events"
)

type capturedRequest struct {
	header http.Header
	body   []byte
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func TestNotifier_DeliversSignedRunFinished(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusNoContent)
	n, err := New(Options{URLs: []string{srv.URL}, Secret: "s3cret"}, zerolog.Nop())
	require.NoError(t, err)

	ev := events.Event{Type: events.RunFinished, RunID: "r1", ScenarioKey: "adm", Status: "success"}
	require.NoError(t, n.Publish(context.Background(), ev))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, events.RunFinished, got[0].header.Get(HeaderEvent))
	assert.Equal(t, "r1:run.finished", got[0].header.Get(HeaderDelivery))

	sig := strings.TrimPrefix(got[0].header.Get(HeaderSignature), "sha256=")
	assert.True(t, VerifySignature(got[0].body, "s3cret", sig))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(got[0].body, &decoded))
	assert.Equal(t, "success", decoded.Status)
	assert.False(t, decoded.At.IsZero())
}

func TestNotifier_IgnoresUnselectedEvents(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	n, err := New(Options{URLs: []string{srv.URL}}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), events.Event{Type: events.StepLogged, RunID: "r1"}))
	require.NoError(t, n.Publish(context.Background(), events.Event{Type: events.RunStarted, RunID: "r1"}))
	assert.Empty(t, requests())
}

func TestNotifier_NoSignatureWithoutSecret(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	n, err := New(Options{URLs: []string{srv.URL}, Events: []string{"run.*"}}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), events.Event{Type: events.RunStarted, RunID: "r2"}))
	got := requests()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].header.Get(HeaderSignature))
}

func TestNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Options{URLs: []string{srv.URL}, Retries: 3}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, n.Publish(context.Background(), events.Event{Type: events.RunFinished, RunID: "r3"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifier_ReportsFailures(t *testing.T) {
	ok, okRequests := recordingServer(t, http.StatusOK)
	bad, _ := recordingServer(t, http.StatusBadRequest)

	n, err := New(Options{URLs: []string{bad.URL, ok.URL}}, zerolog.Nop())
	require.NoError(t, err)

	err = n.Publish(context.Background(), events.Event{Type: events.RunFinished, RunID: "r4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
	assert.Len(t, okRequests(), 1)
}

func TestNew_RejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/hook", "http://", "::not a url"} {
		_, err := New(Options{URLs: []string{raw}}, zerolog.Nop())
		assert.Error(t, err, raw)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{"run.finished", "run.finished", true},
		{"run.finished", "run.started", false},
		{"run.*", "run.started", true},
		{"run.*", "step.logged", false},
		{"*", "step.logged", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.pattern, tt.eventType), "%s vs %s", tt.pattern, tt.eventType)
	}
}
