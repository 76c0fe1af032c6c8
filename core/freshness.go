package core

import (
	"strings"
	"time"
)

const (
	// DefaultAccessTokenSkew is the fixed lead time before a recorded expiry
	// at which a cached access token is treated as already expired, so a
	// token is never handed out mid-flight into its expiry.
	DefaultAccessTokenSkew = 30 * time.Second

	// DefaultWarmLeadWindow is how far ahead the background warmer looks for
	// connections worth refreshing proactively.
	DefaultWarmLeadWindow = 5 * time.Minute
)

// AccessTokenStale reports whether the cached access token must be refreshed
// before use. An absent or zero expiry always counts as stale.
func AccessTokenStale(now time.Time, expiresAtMs int64, skew time.Duration) bool {
	if skew <= 0 {
		skew = DefaultAccessTokenSkew
	}
	if expiresAtMs <= 0 {
		return true
	}
	return expiresAtMs <= now.UTC().Add(skew).UnixMilli()
}

// Usable reports whether the connection can serve a cached access token
// without touching the provider.
func Usable(now time.Time, conn Connection, skew time.Duration) bool {
	if strings.TrimSpace(conn.AccessToken) == "" {
		return false
	}
	return !AccessTokenStale(now, conn.ExpiresAtMs, skew)
}
