package sol

import (
	"context"

	"dlmmpilot/pkg/errs"
)

// RPCPool holds one client per distinct configured endpoint, in
// configuration order.
type RPCPool struct {
	clients []*Client
	byURL   map[string]*Client
}

// NewRPCPool creates one client per endpoint.
func NewRPCPool(ctx context.Context, endpoints []string, jitoRpc string, reqLimitPerSecond int) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, errs.Connection(nil, "no RPC endpoints configured")
	}

	pool := &RPCPool{
		clients: make([]*Client, 0, len(endpoints)),
		byURL:   make(map[string]*Client, len(endpoints)),
	}
	for _, endpoint := range endpoints {
		if _, dup := pool.byURL[endpoint]; dup {
			continue
		}
		client, err := NewClient(ctx, endpoint, jitoRpc, reqLimitPerSecond)
		if err != nil {
			return nil, err
		}
		pool.clients = append(pool.clients, client)
		pool.byURL[endpoint] = client
	}
	return pool, nil
}

// Primary is the first configured endpoint, the default connection identity.
func (p *RPCPool) Primary() *Client {
	return p.clients[0]
}

// Endpoints lists the pool's endpoints in configuration order.
func (p *RPCPool) Endpoints() []string {
	out := make([]string, len(p.clients))
	for i, c := range p.clients {
		out[i] = c.Endpoint()
	}
	return out
}

func (p *RPCPool) Size() int {
	return len(p.clients)
}
