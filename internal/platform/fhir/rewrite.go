package fhir

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// timestampMember matches the Bundle timestamp and the Period bounds. The
// rewrite works on the raw bytes so member order, whitespace and unknown
// members survive unchanged.
var timestampMember = regexp.MustCompile(`"(timestamp|start|end)"(\s*:\s*)"[^"]*"`)

// RewriteTimestamps replaces Bundle.timestamp and every period start/end in
// raw with ts.
func RewriteTimestamps(raw []byte, ts time.Time) []byte {
	value := ts.UTC().Format(time.RFC3339)
	return timestampMember.ReplaceAll(raw, []byte(`"$1"${2}"`+value+`"`))
}

// BundleTimestamp reads Bundle.timestamp.
func BundleTimestamp(raw []byte) (time.Time, error) {
	var b struct {
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return time.Time{}, fmt.Errorf("fhir: decode bundle: %w", err)
	}
	if b.Timestamp == nil {
		return time.Time{}, fmt.Errorf("fhir: bundle has no timestamp")
	}
	return *b.Timestamp, nil
}
