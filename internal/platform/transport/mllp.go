package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

// MLLPSender sends HL7v2 messages over MLLP, one connection per message,
// in the character set declared by MSH-18.
type MLLPSender struct {
	client  *hl7v2.MLLPClient
	timeout time.Duration
}

// NewMLLPSender creates a sender whose sends are bounded by timeout unless
// the endpoint sets its own.
func NewMLLPSender(timeout time.Duration) *MLLPSender {
	return &MLLPSender{client: hl7v2.NewMLLPClient(), timeout: timeout}
}

func (s *MLLPSender) Send(ctx context.Context, ep Endpoint, payload []byte) ([]byte, error) {
	if ep.Address == "" {
		return nil, fmt.Errorf("transport: endpoint %q has no MLLP address", ep.Name)
	}
	wire, err := hl7v2.EncodeForWire(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	ctx, cancel := withTimeout(ctx, ep, s.timeout)
	defer cancel()

	return s.client.Send(ctx, ep.Address, wire)
}
