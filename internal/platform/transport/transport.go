// Package transport delivers encoded payloads to remote receivers and hands
// back the raw acknowledgement. It owns connections and timeouts; it never
// interprets the acknowledgement.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Endpoint kinds.
const (
	KindMLLP = "mllp"
	KindFHIR = "fhir"
)

// DefaultTimeout bounds a send when neither the endpoint nor the sender sets
// one.
const DefaultTimeout = 10 * time.Second

// ErrUnsupportedKind is returned by the Router for an unknown endpoint kind.
var ErrUnsupportedKind = errors.New("transport: unsupported endpoint kind")

// Endpoint addresses one receiver.
type Endpoint struct {
	Name    string
	Kind    string
	Address string // host:port for MLLP
	URL     string // base URL for FHIR
	Timeout time.Duration
}

// Sender delivers payload and returns the raw acknowledgement bytes.
type Sender interface {
	Send(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error)

func (f SenderFunc) Send(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error) {
	return f(ctx, ep, payload)
}

// Router picks a Sender by endpoint kind.
type Router struct {
	senders map[string]Sender
}

// NewRouter creates a router over the given kind → sender table.
func NewRouter(senders map[string]Sender) *Router {
	return &Router{senders: senders}
}

func (r *Router) Send(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error) {
	s, ok := r.senders[ep.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, ep.Kind)
	}
	return s.Send(ctx, ep, payload)
}

// withTimeout applies the endpoint timeout, else fallback, else
// DefaultTimeout.
func withTimeout(ctx context.Context, ep Endpoint, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
