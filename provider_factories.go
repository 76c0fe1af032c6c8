package connections

import (
	"github.com/dima-ai/go-connections/core"
	"github.com/dima-ai/go-connections/providers"
)

// OAuth2ProviderConfig is re-exported so callers wiring providers do not need
// to import the providers package directly.
type OAuth2ProviderConfig = providers.OAuth2Config

func OAuth2Provider(cfg providers.OAuth2Config) (core.ProviderClient, error) {
	return providers.NewOAuth2Client(cfg)
}

// NewRegistryFromConfigs builds a provider registry from a set of OAuth2
// endpoint configs, keyed by each config's Service name.
func NewRegistryFromConfigs(configs ...providers.OAuth2Config) (*core.ProviderRegistry, error) {
	registry := core.NewProviderRegistry()
	for _, cfg := range configs {
		client, err := providers.NewOAuth2Client(cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(client.Service(), client); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
