package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusError reports a non-2xx FHIR response. The body is still returned
// to the caller alongside it.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: http %d %s", e.StatusCode, e.Status)
}

// HTTPSender posts FHIR transaction bundles to a server base URL.
type HTTPSender struct {
	client  *resty.Client
	timeout time.Duration
}

// NewHTTPSender creates a sender. Replays must not duplicate messages, so
// the client never retries.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	client := resty.New().
		SetRetryCount(0).
		SetHeader("Content-Type", "application/fhir+json").
		SetHeader("Accept", "application/fhir+json")

	return &HTTPSender{client: client, timeout: timeout}
}

func (s *HTTPSender) Send(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error) {
	if ep.URL == "" {
		return nil, fmt.Errorf("transport: endpoint %q has no base URL", ep.Name)
	}
	ctx, cancel := withTimeout(ctx, ep, s.timeout)
	defer cancel()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(ep.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", ep.URL, err)
	}

	body := resp.Body()
	if resp.IsError() {
		return body, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return body, nil
}
