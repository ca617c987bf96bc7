package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status   string          `json:"status"`
	Location string          `json:"location,omitempty"`
	Outcome  json.RawMessage `json:"outcome,omitempty"`
}

// NewTransactionBundle creates an empty transaction Bundle.
func NewTransactionBundle(id string, ts time.Time) *Bundle {
	ts = ts.UTC()
	return &Bundle{
		ResourceType: "Bundle",
		ID:           id,
		Type:         "transaction",
		Timestamp:    &ts,
	}
}

// AddCreate appends resource as a POST entry addressed by fullURL.
func (b *Bundle) AddCreate(fullURL, resourceType string, resource interface{}) error {
	raw, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("fhir: marshal %s: %w", resourceType, err)
	}
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  fullURL,
		Resource: raw,
		Request:  &BundleRequest{Method: "POST", URL: resourceType},
	})
	return nil
}

// ResourceTypes lists the resourceType of every entry in order.
func (b *Bundle) ResourceTypes() []string {
	types := make([]string, 0, len(b.Entry))
	for _, e := range b.Entry {
		var r Resource
		if err := json.Unmarshal(e.Resource, &r); err == nil {
			types = append(types, r.ResourceType)
		}
	}
	return types
}
