package channel

import (
	"sync"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
)

// PipeEnd is one side of an in-memory channel. Frames posted on one end are
// delivered to the other end's handler on a fresh goroutine, so two frames
// may arrive in either order.
type PipeEnd struct {
	self string
	peer *PipeEnd

	mu       sync.Mutex
	handler  Handler
	failure  error
	closed   bool
	inFlight sync.WaitGroup
}

// Pipe connects two parties identified by their origins. Frames posted on
// the first end arrive at the second end's handler stamped with originA.
func Pipe(originA, originB string) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{self: originA}
	b := &PipeEnd{self: originB}
	a.peer, b.peer = b, a
	return a, b
}

// OnMessage installs the handler for frames arriving at this end.
func (p *PipeEnd) OnMessage(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Origin returns the origin of the party this end reaches.
func (p *PipeEnd) Origin() string {
	return p.peer.self
}

// Post encodes frame and delivers it asynchronously to the peer.
func (p *PipeEnd) Post(frame any) error {
	p.mu.Lock()
	failure, closed := p.failure, p.closed
	p.mu.Unlock()
	if failure != nil {
		return failure
	}
	if closed {
		return ErrClosed
	}

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	peer := p.peer
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		peer.deliver(Message{Origin: p.self, Data: data, Source: peer})
	}()
	return nil
}

// Inject delivers raw bytes to this end as if sent by origin, with replies
// going to source. Tests use it to play a foreign or misbehaving sender.
func (p *PipeEnd) Inject(origin string, data []byte, source Endpoint) {
	p.deliver(Message{Origin: origin, Data: data, Source: source})
}

// Break makes every later Post fail with err.
func (p *PipeEnd) Break(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failure = err
}

// Close stops delivery to this end and makes Post fail.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.handler = nil
	return nil
}

// Flush waits for frames already posted from this end to be handled.
func (p *PipeEnd) Flush() {
	p.inFlight.Wait()
}

func (p *PipeEnd) deliver(msg Message) {
	p.mu.Lock()
	h, closed := p.handler, p.closed
	p.mu.Unlock()
	if closed || h == nil {
		return
	}
	h(msg)
}
