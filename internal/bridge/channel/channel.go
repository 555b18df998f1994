// Package channel carries bridge frames between the host and a sandboxed
// context. Delivery is fire-and-forget: Post never waits for the peer, and
// nothing is retried or ordered.
package channel

import "errors"

var ErrClosed = errors.New("channel closed")

// Endpoint posts frames to the party on the other side.
type Endpoint interface {
	// Post serialises frame and hands it to the transport.
	Post(frame any) error
	// Origin is the origin of the party frames posted here reach.
	Origin() string
}

// Message is one inbound frame. Source reaches back to the sender and is
// the only valid address for a reply.
type Message struct {
	Origin string
	Data   []byte
	Source Endpoint
}

// Handler consumes inbound messages.
type Handler func(Message)
