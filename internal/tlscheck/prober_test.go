package tlscheck

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tlsProber(t *testing.T, h http.HandlerFunc, timeout time.Duration) (*Prober, string) {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	p := NewProber(timeout, "", srv.Client().Transport, discardLogger())
	return p, strings.TrimPrefix(srv.URL, "https://")
}

func TestProbeSuccess(t *testing.T) {
	var gotUA string
	p, host := tlsProber(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("hello"))
	}, 2*time.Second)

	assert.True(t, p.Probe(testCtx(t), host))
	assert.Equal(t, defaultUserAgent, gotUA)
}

func TestProbeRedirectIsNegative(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusFound} {
		p, host := tlsProber(t, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "http://"+r.Host+"/", status)
		}, 2*time.Second)
		assert.False(t, p.Probe(testCtx(t), host), "status %d", status)
	}
}

func TestProbeOtherStatusesArePositive(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusTemporaryRedirect} {
		p, host := tlsProber(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "/elsewhere")
			w.WriteHeader(status)
		}, 2*time.Second)
		assert.True(t, p.Probe(testCtx(t), host), "status %d", status)
	}
}

func TestProbeConnectionErrorIsNegative(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "https://")
	transport := srv.Client().Transport
	srv.Close()

	p := NewProber(time.Second, "", transport, discardLogger())
	assert.False(t, p.Probe(testCtx(t), host))
}

func TestProbePlainHTTPIsNegative(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	p := NewProber(time.Second, "", nil, discardLogger())
	assert.False(t, p.Probe(testCtx(t), strings.TrimPrefix(srv.URL, "http://")))
}

func TestProbeTimeoutIsNegative(t *testing.T) {
	p, host := tlsProber(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}, 100*time.Millisecond)

	start := time.Now()
	assert.False(t, p.Probe(testCtx(t), host))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassifyProbe(t *testing.T) {
	resp := func(status int) *http.Response { return &http.Response{StatusCode: status} }

	assert.False(t, classifyProbe(nil, errors.New("handshake failure")))
	assert.False(t, classifyProbe(resp(200), errors.New("partial")))
	assert.False(t, classifyProbe(resp(301), nil))
	assert.False(t, classifyProbe(resp(302), nil))
	assert.True(t, classifyProbe(resp(200), nil))
	assert.True(t, classifyProbe(resp(308), nil))
}
