// Package main hosts the edge render service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server serves GET /render for tenants holding an API key, plus /healthz, /readyz and
//     /metrics. Requests whose Host matches a configured origin are diverted to transparent proxy mode before routing.
//   - Proxy mode: browsers and non-GET traffic pass straight through to the origin. AI crawlers, recognized by
//     User-Agent, receive a markdown rendering of the public URL or, failing that, the origin page with status 200.
//   - Render pipeline: targets are canonicalized and fingerprinted, then resolved through a read-through cache with a
//     lease so a single instance extracts each page. Extraction runs locally (colly fetch, readability, markdown) or
//     against a remote HTTP backend, behind a failsafe-go circuit breaker.
//   - Storage: cache entries, leases, tenant records and usage counters live in Redis (or an in-memory store for a
//     single instance). Tenants may also come from Postgres. Comparison snapshots go to memory, disk or GCS.
//   - Events: every request emits a render event into a buffered hub that batches to Prometheus, zap and Pub/Sub.
//
// Operational notes:
//   - Crawlers never see a non-200 status; failures are reported in X-Edge-Cache and X-Origin-Status instead.
//   - Usage, snapshot and tenant migration writes run detached from the request and are drained on shutdown.
//   - The process reacts to SIGTERM by draining the HTTP server, detached tasks and the event hub in that order.
//
// Quick checklist:
//   - Configure env vars with the EDGE_ prefix, e.g. EDGE_SERVER_PORT, EDGE_REDIS_ADDRS, EDGE_EXTRACTION_BACKEND.
//   - Run locally: go run ./cmd/edgerender -config config.yaml (or rely solely on env overrides).
package main
