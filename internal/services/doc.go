// Package services talks to Discogs.
//
// # Data facade
//
// [Discogs] is implemented twice. [DiscogsService] signs requests itself with OAuth 1.0a and needs the
// consumer secret. [RelayClient] forwards the same calls to the relay server (see internal/server), for
// installs where the secret lives only on the server.
//
// # Rate limits
//
// [DiscogsService] waits on a shared [ratelimit.Limiter] before every request and feeds it the
// X-Discogs-Ratelimit-* headers of every response. A 429 is retried with exponential backoff by
// [WithRateLimitRetry]; once retries run out the caller receives a [shared.RateLimitError].
//
// # Error Handling
//
// Failures surface as the shared taxonomy:
//   - [shared.AuthError] : 401 or 403, the tokens were rejected or the resource is private
//   - [shared.RateLimitError] : 429 after retries, carries a backoff hint
//   - [shared.APIError] : anything else; StatusCode is 0 for transport failures
//
// # Offline fallback
//
// Successful GET bodies are kept in the discogs-api-cache response cache. When the network is
// unreachable a cached body is served instead of an error.
package services
