// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /v1/audits to submit an audit; GET /v1/audits/{runId}/status and /result to poll it.
//   - GET /v1/oauth/url and /v1/oauth/callback for the Search Console consent flow.
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
