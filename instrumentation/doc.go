// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization server: token lifecycle counters (issued, refreshed,
// reissued, revoked), security counters (rate limiting, PKCE failures,
// replay detection), storage size gauges, and nil-safe span helpers.
//
// When disabled, no-op providers are installed and recording has zero
// overhead. Never record credential values (tokens, secrets, verifiers) as
// attributes; only metadata such as grant types and client identifiers.
package instrumentation
