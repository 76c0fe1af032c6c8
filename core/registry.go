package core

import (
	"fmt"
	"strings"
	"sync"
)

// ProviderRegistry maps a service name to the client that talks to its
// third-party token issuer.
type ProviderRegistry struct {
	mu      sync.RWMutex
	clients map[string]ProviderClient
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{clients: make(map[string]ProviderClient)}
}

func (r *ProviderRegistry) Register(service string, client ProviderClient) error {
	if r == nil {
		return fmt.Errorf("core: provider registry is not configured")
	}
	service = strings.TrimSpace(strings.ToLower(service))
	if service == "" {
		return fmt.Errorf("core: service name is required")
	}
	if client == nil {
		return fmt.Errorf("core: provider client is nil for service %q", service)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[service]; exists {
		return fmt.Errorf("core: provider already registered for service %q", service)
	}
	r.clients[service] = client
	return nil
}

func (r *ProviderRegistry) Resolve(service string) (ProviderClient, error) {
	if r == nil {
		return nil, fmt.Errorf("core: provider registry is not configured")
	}
	service = strings.TrimSpace(strings.ToLower(service))
	r.mu.RLock()
	client, ok := r.clients[service]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, service)
	}
	return client, nil
}
