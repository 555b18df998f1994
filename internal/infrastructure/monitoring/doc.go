/*
Package monitoring provides Prometheus metrics for the host.

# Overview

Tracks HTTP requests, the fate of every inbound bridge frame, backend call
latency and status codes through the relay, session announcements, embed
lifecycle, telemetry polls and WebSocket connections.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordFrame(monitoring.OutcomeRelayed)
	defer metrics.WSConnected("bridge")()

Each Metrics value owns its registry; record methods are no-ops on a nil
*Metrics so components can run without instrumentation.
*/
package monitoring
