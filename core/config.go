package core

import (
	"fmt"
	"strings"
	"time"
)

type SessionConfig struct {
	TTLDays     int `koanf:"ttl_days" mapstructure:"ttl_days"`
	TokenLength int `koanf:"token_length" mapstructure:"token_length"`
}

func (c SessionConfig) TTL() time.Duration {
	if c.TTLDays <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

type RefreshConfig struct {
	SkewSeconds     int `koanf:"skew_seconds" mapstructure:"skew_seconds"`
	WarmLeadMinutes int `koanf:"warm_lead_minutes" mapstructure:"warm_lead_minutes"`
}

func (c RefreshConfig) Skew() time.Duration {
	if c.SkewSeconds <= 0 {
		return DefaultAccessTokenSkew
	}
	return time.Duration(c.SkewSeconds) * time.Second
}

func (c RefreshConfig) WarmLead() time.Duration {
	if c.WarmLeadMinutes <= 0 {
		return DefaultWarmLeadWindow
	}
	return time.Duration(c.WarmLeadMinutes) * time.Minute
}

type RedirectConfig struct {
	AllowedOrigins  []string `koanf:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedSuffixes []string `koanf:"allowed_suffixes" mapstructure:"allowed_suffixes"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Session     SessionConfig  `koanf:"session" mapstructure:"session"`
	Refresh     RefreshConfig  `koanf:"refresh" mapstructure:"refresh"`
	Redirect    RedirectConfig `koanf:"redirect" mapstructure:"redirect"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "connections",
		Session: SessionConfig{
			TTLDays:     30,
			TokenLength: DefaultSessionTokenLength,
		},
		Refresh: RefreshConfig{
			SkewSeconds:     30,
			WarmLeadMinutes: 5,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Session.TokenLength != 0 && c.Session.TokenLength < DefaultSessionTokenLength {
		return fmt.Errorf("core: session token_length below %d bytes", DefaultSessionTokenLength)
	}
	if c.Session.TTLDays < 0 {
		return fmt.Errorf("core: session ttl_days is invalid")
	}
	return nil
}
