// Package watcher multiplexes callbacks over native watch streams.
//
// Every distinct root gets one watch.Stream no matter how many callbacks
// watch it. Callbacks choose a scope, the kinds they care about, and what to
// do about overflow. A stream whose callback aborts is rebuilt with
// exponential backoff; after the last attempt the error handler is told.
package watcher
