package destination

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

// Destination is a remote receiver a scenario can be replayed against.
type Destination struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Host          string    `json:"host,omitempty"`
	Port          int       `json:"port,omitempty"`
	BaseURL       string    `json:"base_url,omitempty"`
	StrictProfile *bool     `json:"strict_profile,omitempty"`
	TimeoutMS     *int      `json:"timeout_ms,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Endpoint converts the destination into a transport address.
func (d *Destination) Endpoint() transport.Endpoint {
	ep := transport.Endpoint{Name: d.Name, Kind: d.Kind}
	switch d.Kind {
	case transport.KindMLLP:
		ep.Address = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	case transport.KindFHIR:
		ep.URL = d.BaseURL
	}
	if d.TimeoutMS != nil && *d.TimeoutMS > 0 {
		ep.Timeout = time.Duration(*d.TimeoutMS) * time.Millisecond
	}
	return ep
}

// String is used in logs.
func (d *Destination) String() string {
	switch d.Kind {
	case transport.KindMLLP:
		return fmt.Sprintf("%s (mllp %s:%d)", d.Name, d.Host, d.Port)
	default:
		return fmt.Sprintf("%s (%s %s)", d.Name, d.Kind, d.BaseURL)
	}
}
