// Package sinks implements progress consumers: Prometheus collectors for
// harvest metrics and a zap-backed log sink.
package sinks
