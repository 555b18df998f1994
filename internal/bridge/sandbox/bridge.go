// Package sandbox is the embedded side of the bridge: an http.RoundTripper
// that turns internal API calls into relay frames and waits for results.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/GameLab/backend/internal/shared/id"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	ErrCallTimeout  = errors.New("relayed call timed out")
	ErrNoSessionID  = errors.New("session response has no sessionId")
	ErrBridgeClosed = errors.New("bridge closed")
)

// RelayError is returned from RoundTrip when the host could not perform
// the call at all. Backend statuses, including 4xx and 5xx, never produce it.
type RelayError struct {
	ID     string
	Reason string
}

func (e *RelayError) Error() string {
	return "relay failed: " + e.Reason
}

type outcome struct {
	resp *http.Response
	err  error
}

type call struct {
	req  *http.Request
	done chan outcome
}

// Bridge is the sandbox half of the fetch proxy. It implements
// http.RoundTripper: internal API calls are posted to the host and
// everything else goes to the base transport untouched.
type Bridge struct {
	self     *url.URL
	host     channel.Endpoint
	prefixes protocol.Prefixes
	guard    *origin.Guard
	base     http.RoundTripper
	timeout  time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	pending map[string]*call
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefixes overrides the internal API and sandbox prefixes.
func WithPrefixes(p protocol.Prefixes) Option {
	return func(b *Bridge) { b.prefixes = p }
}

// WithGuard sets the guard applied to result senders. Without one, only
// frames from the host endpoint's own origin are accepted.
func WithGuard(g *origin.Guard) Option {
	return func(b *Bridge) { b.guard = g }
}

// WithBase sets the transport used for calls that are not proxied.
func WithBase(rt http.RoundTripper) Option {
	return func(b *Bridge) { b.base = rt }
}

// WithCallTimeout fails a proxied call with ErrCallTimeout after d.
// Zero, the default, waits until the request context ends.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a bridge for a sandbox served from self, posting to host.
func New(self string, host channel.Endpoint, opts ...Option) (*Bridge, error) {
	u, err := url.Parse(self)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sandbox origin %q must be absolute", self)
	}

	b := &Bridge{
		self:     &url.URL{Scheme: u.Scheme, Host: u.Host},
		host:     host,
		prefixes: protocol.DefaultPrefixes(),
		base:     http.DefaultTransport,
		pending:  make(map[string]*call),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger).Named("sandbox")
	return b, nil
}

// Client returns an http.Client whose calls go through the bridge.
func (b *Bridge) Client() *http.Client {
	return &http.Client{Transport: b}
}

// URL resolves ref against the sandbox origin.
func (b *Bridge) URL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.self.ResolveReference(u).String()
}

// Pending returns the number of unsettled proxied calls.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Eligible reports whether req would be proxied.
func (b *Bridge) Eligible(req *http.Request) bool {
	u := req.URL
	if u == nil {
		return false
	}
	if u.IsAbs() || u.Host != "" {
		if !origin.Same(u.Scheme+"://"+u.Host, b.self.String()) {
			return false
		}
	}
	return b.prefixes.Internal(u.EscapedPath())
}

// RoundTrip implements http.RoundTripper.
func (b *Bridge) RoundTrip(req *http.Request) (*http.Response, error) {
	if !b.Eligible(req) {
		return b.base.RoundTrip(req)
	}

	frame, err := b.encode(req)
	if err != nil {
		return nil, err
	}

	c := &call{req: req, done: make(chan outcome, 1)}
	if err := b.register(frame.ID, c); err != nil {
		return nil, err
	}

	if err := b.host.Post(frame); err != nil {
		b.take(frame.ID)
		b.logger.Warn("Posting relay frame failed", zap.String("id", frame.ID), zap.Error(err))
		return nil, fmt.Errorf("post %s %s: %w", frame.Method(), frame.Input.URL, err)
	}

	b.logger.Debug("Relay frame posted",
		zap.String("id", frame.ID),
		zap.String("method", frame.Method()),
		zap.String("url", frame.Input.URL))

	return b.wait(req.Context(), frame.ID, c)
}

func (b *Bridge) encode(req *http.Request) (*protocol.FetchRequest, error) {
	init := &protocol.Init{Method: req.Method}
	if init.Method == "" {
		init.Method = http.MethodGet
	}

	if len(req.Header) > 0 {
		init.Headers = make(map[string]string, len(req.Header))
		for k, v := range req.Header {
			init.Headers[k] = strings.Join(v, ", ")
		}
	}

	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body := string(data)
		init.Body = &body
	}

	return &protocol.FetchRequest{
		Type: protocol.TypeFetch,
		ID:   id.NewCorrelationID().String(),
		Input: protocol.Input{
			URL:  b.prefixes.SandboxPath(req.URL.EscapedPath(), req.URL.RawQuery),
			Init: init,
		},
	}, nil
}

func (b *Bridge) wait(ctx context.Context, callID string, c *call) (*http.Response, error) {
	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-c.done:
		return out.resp, out.err
	case <-ctx.Done():
		if b.take(callID) == nil {
			// Settled concurrently; the outcome is already buffered.
			out := <-c.done
			return out.resp, out.err
		}
		return nil, ctx.Err()
	case <-timeout:
		if b.take(callID) == nil {
			out := <-c.done
			return out.resp, out.err
		}
		return nil, fmt.Errorf("%w after %s", ErrCallTimeout, b.timeout)
	}
}

// Dispatch consumes one inbound frame. Frames from untrusted senders, frames
// of other types and results for unknown ids are dropped without effect.
func (b *Bridge) Dispatch(msg channel.Message) {
	if !b.trusted(msg.Origin) {
		b.logger.Debug("Dropped frame from untrusted sender", zap.String("origin", msg.Origin))
		return
	}

	typ, err := protocol.Peek(msg.Data)
	if err != nil || typ != protocol.TypeFetchResult {
		return
	}

	res, err := protocol.DecodeResult(msg.Data)
	if err != nil {
		b.logger.Debug("Dropped malformed result frame", zap.Error(err))
		return
	}

	c := b.take(res.ID)
	if c == nil {
		return
	}

	if res.Failed() {
		c.done <- outcome{err: &RelayError{ID: res.ID, Reason: *res.Error}}
		return
	}
	c.done <- outcome{resp: rebuild(res, c.req)}
}

func (b *Bridge) trusted(senderOrigin string) bool {
	if b.guard != nil {
		return b.guard.IsTrustedSender(senderOrigin)
	}
	return senderOrigin != "" && senderOrigin == b.host.Origin()
}

func rebuild(res *protocol.FetchResult, req *http.Request) *http.Response {
	status := *res.Status
	body := ""
	if res.Body != nil {
		body = *res.Body
	}

	header := make(http.Header, len(res.Headers))
	for k, v := range res.Headers {
		header.Set(k, v)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func (b *Bridge) register(callID string, c *call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	b.pending[callID] = c
	return nil
}

// take removes and returns the pending call, or nil if it already settled.
func (b *Bridge) take(callID string) *call {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.pending[callID]
	if !ok {
		return nil
	}
	delete(b.pending, callID)
	return c
}

// Close fails every pending call with ErrBridgeClosed. Results arriving
// afterwards find nothing to settle.
func (b *Bridge) Close() error {
	b.mu.Lock()
	calls := b.pending
	b.pending = make(map[string]*call)
	b.closed = true
	b.mu.Unlock()

	for _, c := range calls {
		c.done <- outcome{err: ErrBridgeClosed}
	}
	return nil
}

// StartSession creates a backend session through the bridge, the way an
// embedded project does on boot, and returns its id.
func (b *Bridge) StartSession(ctx context.Context) (string, error) {
	target := b.URL(b.prefixes.API + "/game-session")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("create session: status %d: %s", resp.StatusCode, data)
	}

	sessionID := gjson.GetBytes(data, "sessionId").String()
	if sessionID == "" {
		return "", ErrNoSessionID
	}
	return sessionID, nil
}
