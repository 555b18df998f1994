// Package http holds the host's REST handlers: repository fetch, embed
// lifecycle, health and Prometheus metrics. It also serves the bridge
// script injected into fetched projects.
package http
