// Package collection holds the client-side view logic for a Discogs collection.
//
// Discogs can sort a collection server-side but cannot search or filter it, so any view that
// searches, filters, or uses a client-only sort (genre, random) needs every page. [ShouldFetchAllPages]
// decides which mode a view is in and [Options.Variant] turns it into the cached query variant.
//
// Only vinyl releases are shown. Everything else is summarized by [NonVinylBreakdown].
package collection
