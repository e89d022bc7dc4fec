// Package models defines the Discogs data shapes shared across the vinyldeck packages.
//
// The package contains two categories of types:
//
// 1. Wire types decoded from the Discogs API:
//   - [Identity] : GET /oauth/identity
//   - [UserProfile] : GET /users/{username}
//   - [CollectionResponse] : GET /users/{username}/collection/folders/{folder_id}/releases
//   - [CollectionRelease] and [BasicInformation] : one item of a collection page
//
// 2. Local values persisted or passed between layers:
//   - [AuthTokens] : the OAuth 1.0a access token pair
//   - [RequestToken] : the first leg of the OAuth handshake
//   - [CachedProfile] : the minimal identity kept for instant "welcome back" rendering
//   - [CollectionMetadata] : the cheap total-count projection used for change detection
package models
