// Package telemetry carries recorded game data from the backend to the UI
// of an embed: a fan-out Hub and a Poller that watches the active session.
package telemetry
