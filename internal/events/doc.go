// Package events carries one outcome record per edge request (render or
// proxy) through a non-blocking batching hub to pluggable sinks: structured
// logs, Prometheus collectors and a Pub/Sub topic that downstream metering
// reads from.
package events
