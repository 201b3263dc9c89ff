package upstream

import (
	"context"
	"fmt"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
)

// Mux routes each attempt to the client registered for the provider's
// wire dialect. Dialect clients register at startup; Register is not
// safe to call once dispatch has begun.
type Mux struct {
	clients map[registry.WireFormat]Client
}

// NewMux creates an empty wire-dialect mux.
func NewMux() *Mux {
	return &Mux{clients: make(map[registry.WireFormat]Client)}
}

// Register binds a client to a wire dialect, replacing any previous
// binding.
func (m *Mux) Register(wire registry.WireFormat, client Client) {
	m.clients[wire] = client
}

// Send implements Client.
func (m *Mux) Send(ctx context.Context, p *registry.Provider, req *Request) (*Result, error) {
	client, ok := m.clients[p.Wire]
	if !ok {
		return nil, fmt.Errorf("no client registered for wire format %q (provider %s)", p.Wire, p.Name)
	}
	return client.Send(ctx, p, req)
}
