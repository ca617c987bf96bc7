package fhir

import (
	"strings"
	"testing"
	"time"
)

func TestRewriteTimestamps(t *testing.T) {
	raw := []byte(`{"resourceType":"Bundle", "timestamp" : "2024-01-01T08:00:00Z","entry":[{"resource":{"period":{"start":"2024-01-01T08:00:00Z","end":"2024-01-01T09:00:00Z"},"zeta":1}}]}`)
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	got := string(RewriteTimestamps(raw, ts))
	want := `{"resourceType":"Bundle", "timestamp" : "2025-06-01T12:30:00Z","entry":[{"resource":{"period":{"start":"2025-06-01T12:30:00Z","end":"2025-06-01T12:30:00Z"},"zeta":1}}]}`
	if got != want {
		t.Errorf("unexpected rewrite:\n got %s\nwant %s", got, want)
	}
}

func TestRewriteTimestamps_EncodedBundle(t *testing.T) {
	enc := NewBundleEncoder()
	data, err := enc.Encode(EncounterBundleInput{
		EventCode: "ADMISSION_CONFIRMED",
		Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	out := RewriteTimestamps(data, ts)

	got, err := BundleTimestamp(out)
	if err != nil {
		t.Fatalf("read timestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, got)
	}
	if strings.Contains(string(out), "2024-03-01") {
		t.Error("original timestamp still present")
	}
	if len(out) != len(data) {
		t.Errorf("rewrite changed payload length %d -> %d", len(data), len(out))
	}
}

func TestBundleTimestamp_Missing(t *testing.T) {
	if _, err := BundleTimestamp([]byte(`{"resourceType":"Bundle"}`)); err == nil {
		t.Error("expected error for bundle without timestamp")
	}
	if _, err := BundleTimestamp([]byte(`nope`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
