// Package api hosts the status HTTP server used in schedule mode. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
//   - POST /v1/runs to trigger a run now.
package api
