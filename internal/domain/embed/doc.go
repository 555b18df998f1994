// Package embed runs embedded projects. Each Session owns a container, an
// origin guard trusting the container's origin, a relay for the project's
// proxied calls, a hub feeding the UI and a poller streaming the active
// backend session's records.
package embed
