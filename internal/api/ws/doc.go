// Package ws serves the embed websockets: the bridge channel the embedded
// project talks through and the one-way events feed for the UI.
package ws
