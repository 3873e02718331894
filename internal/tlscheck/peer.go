package tlscheck

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.trai.ch/zerr"
)

// Peers sends a query to another instance of the federation. An error means
// nothing was learned from addr, which is not the same as addr answering false.
type Peers interface {
	Query(ctx context.Context, addr string, q Query) (bool, error)
}

// HTTPPeers queries peers over the same JSON endpoint Service exposes.
type HTTPPeers struct {
	client *http.Client
	scheme string
	signer *signer
}

// NewHTTPPeers returns a peer client using scheme ("http" or "https"). The
// caller bounds each query through ctx.
func NewHTTPPeers(scheme string, client *http.Client, s *signer) *HTTPPeers {
	if client == nil {
		client = &http.Client{}
	}
	if scheme == "" {
		scheme = "http"
	}
	return &HTTPPeers{client: client, scheme: scheme, signer: s}
}

// Query sends q to addr. When ctx has a deadline, the time left is sent along
// so that addr bounds its own work by it.
func (p *HTTPPeers) Query(ctx context.Context, addr string, q Query) (bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		q.TimeoutMS = max(time.Until(deadline).Milliseconds(), 1)
	}
	body, err := json.Marshal(q)
	if err != nil {
		return false, zerr.Wrap(err, "failed to encode peer query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.scheme+"://"+addr+"/", bytes.NewReader(body))
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "failed to build peer request"), "peer", addr)
	}
	req.Header.Set("Content-Type", "application/json")
	p.signer.sign(req, body)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "peer unreachable"), "peer", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return false, zerr.With(zerr.With(ErrPeerStatus, "peer", addr), "status", strconv.Itoa(resp.StatusCode))
	}
	var ans Answer
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ans); err != nil {
		return false, zerr.With(zerr.Wrap(err, "failed to decode peer answer"), "peer", addr)
	}
	return ans.HTTPSEnabled, nil
}
