package websocket

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// DefaultPath is where the socket endpoint is mounted.
const DefaultPath = "/api/socket"

// Provider owns the process-wide hub. The first GetOrCreate builds it and
// mounts its endpoint; every later call returns the same hub.
type Provider struct {
	mu      sync.Mutex
	hub     *Hub
	path    string
	factory func() (*Hub, error)
}

func NewProvider(path string, factory func() (*Hub, error)) *Provider {
	if path == "" {
		path = DefaultPath
	}
	return &Provider{path: path, factory: factory}
}

// GetOrCreate returns the hub, building it and mounting it on routes the
// first time. A failed build is not cached, so a later call retries.
func (p *Provider) GetOrCreate(routes gin.IRoutes) (*Hub, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hub != nil {
		return p.hub, nil
	}
	hub, err := p.factory()
	if err != nil {
		return nil, err
	}
	routes.GET(p.path, hub.ServeWS)
	p.hub = hub
	return hub, nil
}

func (p *Provider) Path() string {
	return p.path
}
