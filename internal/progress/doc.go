// Package progress carries harvest progress events from the account workers
// and pipeline to pluggable sinks. Emit never blocks: events are buffered,
// batched on a background goroutine, and fanned out to sinks such as
// Prometheus collectors or structured logs.
package progress
