// Package fetcher turns a URL into a local artifact path.
//
// A Coordinator answers from the cache index when it can and otherwise runs
// exactly one download per key, no matter how many callers ask for it at the
// same time. Late callers join the running transfer and are released when it
// finishes. Failed transfers leave no trace in the index or the store, so the
// next request simply tries again.
package fetcher
