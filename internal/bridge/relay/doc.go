// Package relay is the host side of the bridge. It serves proxied calls from
// trusted senders against the backend's sandbox namespace, names new test
// sessions and announces their ids to the embed's UI.
package relay
