package tlscheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Prober makes one HTTPS request to a host and reduces the outcome to a bool.
type Prober struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	log       *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithMaxBody reads at most n bytes of a probed response body.
func WithMaxBody(n int64) ProberOption {
	return func(p *Prober) {
		if n >= 0 {
			p.maxBody = n
		}
	}
}

// NewProber returns a Prober whose requests give up after timeout. A nil
// transport means http.DefaultTransport.
func NewProber(timeout time.Duration, userAgent string, transport http.RoundTripper, log *slog.Logger, opts ...ProberOption) *Prober {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	p := &Prober{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		maxBody:   64 << 10,
		log:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe reports whether host answered over HTTPS with a non-redirect response.
// There are no retries.
func (p *Prober) Probe(ctx context.Context, host string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+"/", nil)
	if err != nil {
		p.log.Debug("probe request invalid", "host", host, "error", err)
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed", "host", host, "error", err)
		return classifyProbe(nil, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBody))

	return classifyProbe(resp, nil)
}

func classifyProbe(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return false
	}
	if isRedirect(resp.StatusCode) {
		return false
	}
	return true
}

// isRedirect treats a redirect served over TLS as evidence that the content
// itself does not live on HTTPS.
func isRedirect(status int) bool {
	return status == http.StatusMovedPermanently || status == http.StatusFound
}
