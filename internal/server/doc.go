// Package server provides HTTP routing, middleware, the Discogs relay, and the OAuth callback handler.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// Middleware is applied when a route is registered, so Use must be called before Handle.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Relay
//
// [Relay] exposes the Discogs facade over JSON POST endpoints for clients that cannot hold the consumer
// secret. Each request body carries the caller's token pair; nothing is stored server-side.
//
//   - POST /oauth/request-token: the callback URL origin must be on the allowlist
//   - POST /oauth/access-token
//   - POST /discogs/identity, /discogs/collection, /discogs/profile, /discogs/metadata
//   - GET /health
//
// Failures are written as [services.ErrorBody]. [MapError] keeps auth and rate-limit statuses,
// passes through 400/401/403/404/429 API statuses, and reports everything else as 500.
//
// # Callback Handler
//
// [CallbackHandler] receives the browser redirect at the end of the OAuth 1.0a authorize step.
// It checks oauth_token against the pending request token and hands the verifier to the CLI through
// a channel. It only processes one callback to prevent replay attacks.
package server
