package shared

// AppVersion is reported in the Discogs User-Agent and compared against the last-seen version preference.
const AppVersion = "1.0.0"

// CollectionPerPage is the page size for paginated collection views.
const CollectionPerPage = 17

// Durable storage keys, one bucket per persisted store.
const (
	AuthStorageKey        = "vinyldeck-auth"
	PreferencesStorageKey = "vinyldeck-prefs"
	SyncStorageKey        = "vinyldeck-sync"
	ProfileStorageKey     = "vinyldeck-profile"
)

// Named HTTP response caches.
const (
	DiscogsAPICache     = "discogs-api-cache"
	DiscogsImagesCache  = "discogs-images-cache"
	GravatarImagesCache = "gravatar-images-cache"
)

// SensitiveCaches lists the response caches cleared on disconnect.
var SensitiveCaches = []string{DiscogsAPICache, DiscogsImagesCache, GravatarImagesCache}
