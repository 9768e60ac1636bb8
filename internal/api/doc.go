// Package api hosts the edge HTTP server. Requests whose Host is a
// configured proxy origin are served in proxy mode: browsers pass through to
// the origin, AI crawlers get renderings. Every other host gets the API:
//   - GET /render?url=<target> with X-API-Key or a Bearer token.
//   - GET /healthz and /readyz for probes; /readyz pings the KV store.
//   - GET /metrics for Prometheus scraping.
package api
