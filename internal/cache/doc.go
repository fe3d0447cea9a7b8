// Package cache holds the durable half of the download cache: the artifact
// store (a flat directory of uniquely named payload files), the index that
// maps a request key to its artifact and validity window, and the sweeper
// that reclaims expired entries in the background.
//
// The index is persisted as a single JSON snapshot that is rewritten after
// every mutation. Open rehydrates it at startup, drops entries whose files
// have disappeared and deletes store files no surviving entry references.
// Transfers and per-key deduplication live in the fetcher package; this
// package never talks to the network.
package cache
