package connections

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dima-ai/go-connections/core"
)

// ProviderPack groups provider clients so downstream apps can register a
// family of integrations (for example every Google service) in one call.
type ProviderPack struct {
	Name    string
	Clients map[string]core.ProviderClient
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks lets host applications contribute provider packs and
// command/query bundles before the service is assembled.
type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks map[string]ProviderPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("connections: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("connections: provider pack name is required")
	}
	if len(pack.Clients) == 0 {
		return fmt.Errorf("connections: provider pack %q has no clients", name)
	}

	normalized := ProviderPack{
		Name:    name,
		Clients: make(map[string]core.ProviderClient, len(pack.Clients)),
	}
	for service, client := range pack.Clients {
		service = strings.TrimSpace(strings.ToLower(service))
		if service == "" {
			return fmt.Errorf("connections: provider pack %q has a blank service name", name)
		}
		if client == nil {
			return fmt.Errorf("connections: provider pack %q client %q is nil", name, service)
		}
		normalized.Clients[service] = client
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("connections: provider pack %q already registered", name)
	}
	h.providerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("connections: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("connections: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("connections: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("connections: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyProviderPacks registers every pack's clients in pack name order, then
// service name order, so collisions surface deterministically.
func (h *ExtensionHooks) ApplyProviderPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("connections: provider registry is required")
	}

	for _, pack := range h.ProviderPacks() {
		services := make([]string, 0, len(pack.Clients))
		for service := range pack.Clients {
			services = append(services, service)
		}
		sort.Strings(services)
		for _, service := range services {
			if err := registry.Register(service, pack.Clients[service]); err != nil {
				return fmt.Errorf("connections: provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("connections: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		names = append(names, name)
		factories[name] = factory
	}
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.providerPacks))
	for name := range h.providerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.providerPacks[name]
		clients := make(map[string]core.ProviderClient, len(pack.Clients))
		for service, client := range pack.Clients {
			clients[service] = client
		}
		out = append(out, ProviderPack{Name: pack.Name, Clients: clients})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
