package sandbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/channel"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sandboxOrigin = "https://abc123.example-preview.io"
	hostOrigin    = "http://localhost:8000"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fixture wires a bridge to a scripted host over an in-memory pipe.
type fixture struct {
	bridge *Bridge
	sbx    *channel.PipeEnd
	host   *channel.PipeEnd

	mu   sync.Mutex
	seen []*protocol.FetchRequest
}

func newFixture(t *testing.T, reply func(*protocol.FetchRequest) any, opts ...Option) *fixture {
	t.Helper()

	sbx, host := channel.Pipe(sandboxOrigin, hostOrigin)
	b, err := New(sandboxOrigin, sbx, opts...)
	require.NoError(t, err)
	sbx.OnMessage(b.Dispatch)

	f := &fixture{bridge: b, sbx: sbx, host: host}
	host.OnMessage(func(m channel.Message) {
		req, err := protocol.DecodeRequest(m.Data)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, req)
		f.mu.Unlock()
		if reply == nil {
			return
		}
		if frame := reply(req); frame != nil {
			_ = m.Source.Post(frame)
		}
	})
	return f
}

func (f *fixture) requests() []*protocol.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.FetchRequest(nil), f.seen...)
}

func waitPending(t *testing.T, b *Bridge, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Pending() == n }, time.Second, 5*time.Millisecond)
}

func (f *fixture) waitSeen(t *testing.T, n int) []*protocol.FetchRequest {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.requests()) == n }, time.Second, 5*time.Millisecond)
	return f.requests()
}

func TestIneligibleCallsBypassBridge(t *testing.T) {
	var direct []*http.Request
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		direct = append(direct, r)
		return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody, Request: r}, nil
	})

	f := newFixture(t, nil, WithBase(base))

	targets := []string{
		"https://fonts.example.com/api/font.css",
		sandboxOrigin + "/assets/app.js",
		sandboxOrigin + "/apis/x",
		"http://abc123.example-preview.io/api/game-data",
		"https://abc123.example-preview.io:8443/api/game-data",
		sandboxOrigin + "/api%2Fgame-data",
	}
	for _, target := range targets {
		req, err := http.NewRequest(http.MethodGet, target, nil)
		require.NoError(t, err)

		resp, err := f.bridge.RoundTrip(req)
		require.NoError(t, err, target)
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
		assert.Same(t, req, direct[len(direct)-1], "request must reach the base transport as-is")
	}

	assert.Empty(t, f.requests())
	assert.Zero(t, f.bridge.Pending())
}

func TestFrameCarriesRewrittenRequest(t *testing.T) {
	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewResult(r.ID, 200, nil, "")
	})

	req, err := http.NewRequest(http.MethodPost, sandboxOrigin+"/api/game-data?round=2", strings.NewReader(`{"sessionId":"s-1"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	_, err = f.bridge.RoundTrip(req)
	require.NoError(t, err)

	seen := f.requests()
	require.Len(t, seen, 1)
	assert.Equal(t, "/api/sandbox/game-data?round=2", seen[0].Input.URL)
	assert.Equal(t, "POST", seen[0].Method())
	assert.Equal(t, "application/json", seen[0].Headers()["Content-Type"])
	body, ok := seen[0].Body()
	assert.True(t, ok)
	assert.Equal(t, `{"sessionId":"s-1"}`, body)
	assert.True(t, strings.HasPrefix(seen[0].ID, "rp_"))
}

func TestFrameURL(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"rewritten with query", sandboxOrigin + "/api/game-data?round=2", "/api/sandbox/game-data?round=2"},
		{"already sandboxed", sandboxOrigin + "/api/sandbox/get-data?sessionId=s", "/api/sandbox/get-data?sessionId=s"},
		{"escaped question mark stays in path", sandboxOrigin + "/api/game-data%3Fadmin=1?sessionId=s", "/api/sandbox/game-data%3Fadmin=1?sessionId=s"},
		{"escaped slash stays in path", sandboxOrigin + "/api/games/a%2Fb", "/api/sandbox/games/a%2Fb"},
		{"explicit default port", "https://abc123.example-preview.io:443/api/game-data", "/api/sandbox/game-data"},
		{"relative", "/api/game-session", "/api/sandbox/game-session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(r *protocol.FetchRequest) any {
				return protocol.NewResult(r.ID, 200, nil, "")
			})

			req, err := http.NewRequest(http.MethodGet, tt.target, nil)
			require.NoError(t, err)
			_, err = f.bridge.RoundTrip(req)
			require.NoError(t, err)

			seen := f.requests()
			require.Len(t, seen, 1)
			assert.Equal(t, tt.want, seen[0].Input.URL)
		})
	}
}

func TestRoundTripFidelity(t *testing.T) {
	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewResult(r.ID, 201, map[string]string{"content-type": "application/json"}, `{"sessionId":"abc"}`)
	})

	resp, err := f.bridge.Client().Post(sandboxOrigin+"/api/game-session", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "201 Created", resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("content-type"))
	assert.Len(t, resp.Header, 1)
	assert.Equal(t, `{"sessionId":"abc"}`, string(body))
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.Zero(t, f.bridge.Pending())
}

func TestNonOKStatusResolves(t *testing.T) {
	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewResult(r.ID, 404, map[string]string{"content-type": "application/json"}, `{"error":"Session not found"}`)
	})

	resp, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data?sessionId=nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorFrameRejects(t *testing.T) {
	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewFailure(r.ID, "dial tcp: connection refused")
	})

	_, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
	require.Error(t, err)

	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, "dial tcp: connection refused", relayErr.Reason)
	assert.Zero(t, f.bridge.Pending())
}

func TestConcurrentCallsSettleIndependently(t *testing.T) {
	const n = 50

	f := newFixture(t, nil)

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/api/item-" + strings.Repeat("x", i)
			resp, err := f.bridge.Client().Get(sandboxOrigin + path)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			results[i] = string(data)
		}(i)
	}

	// Answer in reverse arrival order; each body echoes the relayed url.
	held := f.waitSeen(t, n)
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		require.NoError(t, f.host.Post(protocol.NewResult(r.ID, 200, nil, r.Input.URL)))
	}
	wg.Wait()

	ids := make(map[string]bool, n)
	for _, r := range held {
		assert.False(t, ids[r.ID], "duplicate correlation id %s", r.ID)
		ids[r.ID] = true
	}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "/api/sandbox/item-"+strings.Repeat("x", i), results[i])
	}
	assert.Zero(t, f.bridge.Pending())

	// Duplicate delivery settles nothing.
	require.NoError(t, f.host.Post(protocol.NewResult(held[0].ID, 500, nil, "dup")))
	f.host.Flush()
	assert.Zero(t, f.bridge.Pending())
}

func TestUntrustedResultIsIgnored(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
		if err == nil {
			done <- resp
		}
	}()

	id := f.waitSeen(t, 1)[0].ID

	forged, err := protocol.Encode(protocol.NewResult(id, 200, nil, "forged"))
	require.NoError(t, err)
	f.sbx.Inject("https://evil.example.com", forged, nil)
	f.sbx.Inject("https://abc123.example-preview.io.attacker.com", forged, nil)

	assert.Equal(t, 1, f.bridge.Pending())
	select {
	case <-done:
		t.Fatal("untrusted frame settled the call")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, f.host.Post(protocol.NewResult(id, 200, nil, "real")))
	select {
	case resp := <-done:
		data, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "real", string(data))
	case <-time.After(time.Second):
		t.Fatal("trusted frame did not settle the call")
	}
}

func TestGuardOption(t *testing.T) {
	g, err := origin.NewGuard("http://localhost:9000")
	require.NoError(t, err)

	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewResult(r.ID, 200, nil, "")
	}, WithGuard(g), WithCallTimeout(100*time.Millisecond))

	// Host replies from localhost:8000, which the guard does not list.
	_, err = f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestDanglingResultHasNoEffect(t *testing.T) {
	f := newFixture(t, nil)

	frames := [][]byte{
		[]byte(`{"type":"RP_FETCH_RESULT","id":"rp_unknown","status":200,"headers":{},"body":""}`),
		[]byte(`{"type":"RP_FETCH_RESULT","id":"rp_unknown","error":"late"}`),
		[]byte(`{"type":"SANDBOX_SESSION_ID","payload":"s-1"}`),
		[]byte(`not json`),
		[]byte(`{"type":"RP_FETCH_RESULT","id":"x"}`),
	}
	for _, data := range frames {
		assert.NotPanics(t, func() { f.sbx.Inject(hostOrigin, data, nil) })
	}
	assert.Zero(t, f.bridge.Pending())
}

func TestPostFailureRejectsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("channel unavailable")
	f.sbx.Break(boom)

	_, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.bridge.Pending())
}

func TestContextCancellationRemovesPending(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sandboxOrigin+"/api/get-data", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.bridge.RoundTrip(req)
		errCh <- err
	}()

	id := f.waitSeen(t, 1)[0].ID
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, f.bridge.Pending())

	// A result arriving after cancellation is dropped.
	require.NoError(t, f.host.Post(protocol.NewResult(id, 200, nil, "")))
	f.host.Flush()
	assert.Zero(t, f.bridge.Pending())
}

func TestCloseFailsPendingCalls(t *testing.T) {
	f := newFixture(t, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
		errCh <- err
	}()

	waitPending(t, f.bridge, 1)
	require.NoError(t, f.bridge.Close())

	assert.ErrorIs(t, <-errCh, ErrBridgeClosed)

	_, err := f.bridge.Client().Get(sandboxOrigin + "/api/get-data")
	assert.ErrorIs(t, err, ErrBridgeClosed)
}

func TestStartSession(t *testing.T) {
	f := newFixture(t, func(r *protocol.FetchRequest) any {
		return protocol.NewResult(r.ID, 200, map[string]string{"content-type": "application/json"}, `{"sessionId":"s-1","isTestSession":true}`)
	})

	sessionID, err := f.bridge.StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-1", sessionID)

	seen := f.requests()
	require.Len(t, seen, 1)
	assert.Equal(t, "/api/sandbox/game-session", seen[0].Input.URL)
	assert.Equal(t, "POST", seen[0].Method())
}

func TestStartSessionFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply func(*protocol.FetchRequest) any
	}{
		{"backend error", func(r *protocol.FetchRequest) any {
			return protocol.NewResult(r.ID, 500, nil, `{"error":"Sandbox API operation failed"}`)
		}},
		{"no session id", func(r *protocol.FetchRequest) any {
			return protocol.NewResult(r.ID, 200, nil, `{}`)
		}},
		{"relay failure", func(r *protocol.FetchRequest) any {
			return protocol.NewFailure(r.ID, "down")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.reply)
			_, err := f.bridge.StartSession(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestNewRequiresAbsoluteOrigin(t *testing.T) {
	sbx, _ := channel.Pipe(sandboxOrigin, hostOrigin)
	_, err := New("/relative", sbx)
	assert.Error(t, err)
}
