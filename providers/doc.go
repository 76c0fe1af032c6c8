// Package providers contains built-in provider client implementations for
// talking to third-party token issuers.
package providers
