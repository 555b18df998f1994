// Package main is the entry point for the GameLab sandbox host.
//
// The host fetches a game repository, rewrites it so its API calls go
// through the sandbox bridge, boots it in an execution container and
// relays the proxied calls to the data-collection backend:
//
//	embedded project → bridge websocket → relay → /api/sandbox/*
//	                                        ↘ UI events (session id, rounds)
//
// Configuration:
//   - Environment variables, optionally from .env files
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Run the host
//	gamelab-host --port 8000 --dev
//
//	# Inspect what an embed would be started with
//	gamelab-host fetch https://github.com/owner/game -o ./game
//
//	# Exercise a running embed's bridge as its project would
//	gamelab-host probe --bridge ws://localhost:8000/embed/bridge/<id> \
//	    --origin https://<id>.local.webcontainer.io --rounds 3
package main
