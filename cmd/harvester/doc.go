// Package main hosts the harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and run endpoints. POST /v1/runs validates the
//     request, persists a queued run, and hands it to the dispatcher.
//   - Dispatcher & queue: runs flow through a bounded in-memory queue sized by queue_depth and are executed by a
//     fixed worker pool sized by workers. Each run connects to X, harvests the roster, summarizes, saves the
//     report, and publishes a completion notice.
//   - Harvest: internal/harvest fans the roster out under a counting gate (harvest.concurrency), with per-call
//     timeouts, retry with capped jittered backoff for transient and rate-limited failures, and an identity cache
//     persisted to a file, Redis, or Postgres.
//   - Persistence & fanout: reports are JSON objects in the configured blob store (memory/local/GCS). A Pub/Sub
//     notice is published when a topic is configured. Progress events are batched into Prometheus and log sinks.
//
// Operational notes:
//   - X credentials come from HARVESTER_X_AUTH_TOKEN and HARVESTER_X_CT0 (a .env file is honoured) or from the
//     saved session file. Without either, runs fail at the connect phase.
//   - Run locally: go run ./cmd/harvester -config config.yaml. Add -once to execute a single run in the
//     foreground and print its record as JSON.
//   - The process reacts to SIGINT and SIGTERM by draining the HTTP server and stopping workers.
package main
