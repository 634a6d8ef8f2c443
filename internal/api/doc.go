// Package api hosts the admin HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/run-due to run one scheduler tick on demand.
//   - /v1/sources/... to register, inspect, run, test, simulate, pause,
//     activate and soft-delete sources.
//   - POST /v1/schemas/validate to check an extraction schema before saving it.
package api
