package tlscheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// testCtx returns a context that ends before the test binary deadline or
// after ten seconds, whichever is sooner.
func testCtx(t *testing.T) context.Context {
	t.Helper()

	goal := time.Now().Add(10 * time.Second)
	deadline, ok := t.Deadline()
	if !ok || deadline.Add(-time.Second).After(goal) {
		deadline = goal
	} else {
		deadline = deadline.Add(-time.Second)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryKV(t *testing.T) *levelKV {
	t.Helper()
	kv, err := openMemoryKV()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func newTestCache(t *testing.T, clk clock.Clock) *Cache {
	t.Helper()
	return NewCache(memoryKV(t), discardLogger(), WithClock(clk))
}

// stubProber answers every probe with a fixed result and counts calls.
type stubProber struct {
	mu     sync.Mutex
	result bool
	calls  int
}

func (p *stubProber) Probe(context.Context, string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result
}

func (p *stubProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type peerCall struct {
	addr  string
	query Query
}

// recordingPeers records every outbound query and answers through answer.
type recordingPeers struct {
	mu     sync.Mutex
	calls  []peerCall
	answer func(ctx context.Context, addr string, q Query) (bool, error)
}

func (p *recordingPeers) Query(ctx context.Context, addr string, q Query) (bool, error) {
	p.mu.Lock()
	p.calls = append(p.calls, peerCall{addr: addr, query: q})
	p.mu.Unlock()
	if p.answer == nil {
		return false, nil
	}
	return p.answer(ctx, addr, q)
}

func (p *recordingPeers) recorded() []peerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]peerCall(nil), p.calls...)
}

func (p *recordingPeers) addrs() []string {
	var out []string
	for _, c := range p.recorded() {
		out = append(out, c.addr)
	}
	return out
}

var errUnreachable = errors.New("connection refused")

// probeStub answers probes by host: a listed host returns its status, any
// other host fails to connect.
type probeStub map[string]int

func (m probeStub) RoundTrip(req *http.Request) (*http.Response, error) {
	status, ok := m[req.URL.Host]
	if !ok {
		return nil, errUnreachable
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

func intPtr(n int) *int { return &n }
