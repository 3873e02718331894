package tlscheck

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.trai.ch/zerr"
)

const (
	HeaderTimestamp = "X-Tlscheck-Timestamp"
	HeaderSignature = "X-Tlscheck-Signature"

	// MaxClockSkew bounds how far a signed timestamp may drift from local time.
	MaxClockSkew = 30 * time.Second
)

// signer signs and validates federation hops with a shared secret. An empty
// secret disables both.
type signer struct {
	secret string
	clock  clock.Clock
}

func newSigner(secret string, c clock.Clock) *signer {
	if c == nil {
		c = clock.New()
	}
	return &signer{secret: secret, clock: c}
}

func (s *signer) enabled() bool { return s != nil && s.secret != "" }

// sign stamps req with a signature over its method, path, the current time
// and body, which must be the exact bytes req will send.
func (s *signer) sign(req *http.Request, body []byte) {
	if !s.enabled() {
		return
	}
	ts := s.clock.Now().Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, s.signature(req.Method, req.URL.Path, ts, body))
}

// validate checks the headers set by sign against body, the bytes read from
// req.
func (s *signer) validate(req *http.Request, body []byte) error {
	if !s.enabled() {
		return nil
	}
	raw := req.Header.Get(HeaderTimestamp)
	if raw == "" {
		return zerr.With(ErrUnauthenticated, "reason", "missing timestamp")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return zerr.With(ErrUnauthenticated, "reason", "invalid timestamp")
	}
	skew := time.Duration(s.clock.Now().Unix()-ts) * time.Second
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return zerr.With(ErrUnauthenticated, "skew", skew.String())
	}
	want := s.signature(req.Method, req.URL.Path, ts, body)
	if !hmac.Equal([]byte(want), []byte(req.Header.Get(HeaderSignature))) {
		return zerr.With(ErrUnauthenticated, "reason", "invalid signature")
	}
	return nil
}

func (s *signer) signature(method, path string, ts int64, body []byte) string {
	if path == "" {
		path = "/"
	}
	sum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%s:%s:%d:%x", method, path, ts, sum)
	return hex.EncodeToString(mac.Sum(nil))
}
