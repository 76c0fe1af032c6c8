package security

import (
	"net"
	"net/url"
	"strings"
)

// RedirectPolicy decides whether an externally supplied post-authorization
// redirect URL is safe to honor. Origins match exactly (scheme+host+port,
// default ports normalized away). Suffixes admit exactly one subdomain level
// over https; the apex itself must be listed as an origin.
type RedirectPolicy struct {
	AllowedOrigins  []string
	AllowedSuffixes []string
}

// NewRedirectPolicy trims and lowercases the configured entries so matching
// stays case-insensitive.
func NewRedirectPolicy(origins []string, suffixes []string) RedirectPolicy {
	return RedirectPolicy{
		AllowedOrigins:  normalizeEntries(origins),
		AllowedSuffixes: normalizeEntries(suffixes),
	}
}

// Allows reports whether raw is an acceptable redirect target. An empty
// policy accepts everything parsable; that is the permissive development
// default.
func (p RedirectPolicy) Allows(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	// The permissive default accepts relative targets too; only an
	// allowlisted policy needs an absolute origin to compare against.
	if len(p.AllowedOrigins) == 0 && len(p.AllowedSuffixes) == 0 {
		return true
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return false
	}

	origin := canonicalOrigin(parsed.Scheme, parsed.Host)
	for _, allowed := range p.AllowedOrigins {
		if origin == canonicalOriginString(allowed) {
			return true
		}
	}

	return p.suffixAllows(parsed)
}

func (p RedirectPolicy) suffixAllows(parsed *url.URL) bool {
	if !strings.EqualFold(parsed.Scheme, "https") {
		return false
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return false
	}

	hostname := strings.ToLower(parsed.Hostname())
	for _, suffix := range p.AllowedSuffixes {
		if suffix == "" {
			continue
		}
		rest, ok := strings.CutSuffix(hostname, "."+suffix)
		if !ok {
			continue
		}
		// Exactly one extra label, non-empty and dot-free. The apex never
		// matches here: it must be listed as an explicit origin.
		if rest != "" && !strings.Contains(rest, ".") {
			return true
		}
	}
	return false
}

// canonicalOrigin renders scheme://host[:port] with default ports dropped so
// https://example.com:443 and https://example.com compare equal.
func canonicalOrigin(scheme, host string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)

	if hostname, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
			host = hostname
		}
	}
	return scheme + "://" + host
}

func canonicalOriginString(origin string) string {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.ToLower(origin)
	}
	return canonicalOrigin(parsed.Scheme, parsed.Host)
}

func normalizeEntries(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
