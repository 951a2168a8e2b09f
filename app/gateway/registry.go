package gateway

import "errors"

var ErrGatewayNotSupported = errors.New("gateway is not supported")

type Registry struct {
	gateways map[string]Gateway
	primary  string
}

// NewRegistry indexes gateways by name. The first gateway is the one new
// checkouts are created on.
func NewRegistry(gateways ...Gateway) *Registry {
	items := make(map[string]Gateway, len(gateways))
	primary := ""
	for _, g := range gateways {
		if primary == "" {
			primary = g.Name()
		}
		items[g.Name()] = g
	}
	return &Registry{gateways: items, primary: primary}
}

func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.primary
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, ErrGatewayNotSupported
	}
	return g, nil
}

func (r *Registry) Primary() (Gateway, error) {
	return r.Get(r.primary)
}
