// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a harvest run.
//   - GET /v1/runs/{run_id}/status and /result to follow a run.
//   - GET /v1/reports to list recent reports, newest first.
//   - GET /v1/reports/latest to fetch the newest report.
//   - GET /v1/reports/{report_id} to fetch a stored report.
//   - DELETE /v1/reports/{report_id} to remove a stored report.
package api
