package tlscheck

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

const maxQueryBytes = 64 << 10

type Service struct {
	cfg Config
	log *slog.Logger

	kv          KV
	cache       *Cache
	coordinator *Coordinator
	signer      *signer

	flights singleflight.Group
	stats   *statsCollector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceOption overrides a collaborator of the Service, mostly for tests.
type ServiceOption func(*serviceDeps)

type serviceDeps struct {
	kv             KV
	probeTransport http.RoundTripper
	peerClient     *http.Client
	clock          clock.Clock
	tracer         trace.Tracer
}

// WithKV uses kv instead of opening cfg.Storage.Backend.
func WithKV(kv KV) ServiceOption {
	return func(d *serviceDeps) { d.kv = kv }
}

// WithProbeTransport sends direct probes through rt.
func WithProbeTransport(rt http.RoundTripper) ServiceOption {
	return func(d *serviceDeps) { d.probeTransport = rt }
}

// WithPeerClient sends peer queries through c.
func WithPeerClient(c *http.Client) ServiceOption {
	return func(d *serviceDeps) { d.peerClient = c }
}

// WithServiceClock sets the clock used for cache stamps and hop signatures.
func WithServiceClock(c clock.Clock) ServiceOption {
	return func(d *serviceDeps) { d.clock = c }
}

// WithServiceTracer traces resolutions with t.
func WithServiceTracer(t trace.Tracer) ServiceOption {
	return func(d *serviceDeps) { d.tracer = t }
}

func NewService(cfg Config, log *slog.Logger, opts ...ServiceOption) (*Service, error) {
	deps := serviceDeps{clock: clock.New()}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.kv == nil {
		kv, err := OpenKV(cfg)
		if err != nil {
			return nil, err
		}
		deps.kv = kv
	}

	stats := newStatsCollector()
	cache := NewCache(deps.kv, log,
		WithClock(deps.clock),
		WithRAMEntries(*cfg.Cache.RAMEntries),
		withCacheStats(stats),
	)
	prober := NewProber(cfg.Probe.timeoutDur, cfg.Probe.UserAgent, deps.probeTransport, log,
		WithMaxBody(cfg.Probe.maxBodyBytes))
	sig := newSigner(cfg.Server.SharedSecret, deps.clock)
	peers := NewHTTPPeers(cfg.Federation.Scheme, deps.peerClient, sig)

	copts := []CoordinatorOption{withCoordinatorStats(stats)}
	if deps.tracer != nil {
		copts = append(copts, WithTracer(deps.tracer))
	}

	s := &Service{
		cfg:         cfg,
		log:         log,
		kv:          deps.kv,
		cache:       cache,
		coordinator: NewCoordinator(cfg.CoordinatorConfig(), cache, prober, peers, log, copts...),
		signer:      sig,
		stats:       stats,
		stopCh:      make(chan struct{}),
	}

	if cfg.Logging.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}

	return s, nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	if err := s.kv.Close(); err != nil {
		s.log.Warn("close store", "error", err)
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.stats.registry(), promhttp.HandlerOpts{}))
	return mux
}

// Check resolves host as an externally originated query.
func (s *Service) Check(ctx context.Context, host string) (bool, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return false, err
	}
	self := s.cfg.Server.Self
	return s.resolveExternal(ctx, host, self), nil
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	q, body, err := decodeQuery(r)
	if err != nil {
		s.log.Debug("rejected query", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var enabled bool
	if len(q.Servers) > 0 {
		if err := s.signer.validate(r, body); err != nil {
			s.log.Warn("rejected peer hop", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := r.Context()
		if q.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(q.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		enabled = s.coordinator.Resolve(ctx, q.Host, q.traversal())
	} else {
		self := s.cfg.Server.Self
		if self == "" {
			self = r.Host
		}
		enabled = s.resolveExternal(r.Context(), q.Host, self)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Answer{HTTPSEnabled: enabled})
}

// resolveExternal starts a new traversal, sharing it with concurrent external
// queries for the same host that arrived under the same identity.
func (s *Service) resolveExternal(ctx context.Context, host, self string) bool {
	ch := s.flights.DoChan(self+"|"+host, func() (any, error) {
		t := s.coordinator.NewTraversal(uuid.NewString(), host, self)
		return s.coordinator.Resolve(context.WithoutCancel(ctx), host, t), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.kv.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, "ok\n")
}

// decodeQuery also returns the raw body, which hop signatures cover.
func decodeQuery(r *http.Request) (Query, []byte, error) {
	var (
		q    Query
		body []byte
	)
	switch r.Method {
	case http.MethodPost:
		b, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBytes))
		if err != nil {
			return Query{}, nil, zerr.Wrap(err, "failed to read query payload")
		}
		if err := json.Unmarshal(b, &q); err != nil {
			return Query{}, nil, zerr.Wrap(err, "malformed query payload")
		}
		body = b
	case http.MethodGet:
		// GET is only a convenience for external callers.
		q.Host = r.URL.Query().Get("host")
	default:
		return Query{}, nil, zerr.With(zerr.New("method not allowed"), "method", r.Method)
	}

	host, err := normalizeHost(q.Host)
	if err != nil {
		return Query{}, nil, err
	}
	q.Host = host
	if q.Budget != nil && *q.Budget < 0 {
		return Query{}, nil, zerr.With(ErrNegativeBudget, "recursionBudget", strconv.Itoa(*q.Budget))
	}
	servers := q.Servers[:0:0]
	for _, addr := range q.Servers {
		if addr = strings.TrimSpace(addr); addr != "" {
			servers = append(servers, addr)
		}
	}
	q.Servers = servers
	return q, body, nil
}

func normalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", ErrMissingHost
	}
	if strings.ContainsAny(host, "/ \t?#@") {
		return "", zerr.With(ErrInvalidHost, "host", host)
	}
	return host, nil
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			args := []any{
				"resolutions", ss.Resolutions,
				"cacheHits", ss.CacheHits,
				"cacheMisses", ss.CacheMisses,
				"probesPositive", ss.ProbesPositive,
				"probesNegative", ss.ProbesNegative,
				"peerOK", ss.PeerOK,
				"peerFailed", ss.PeerFailed,
				"storeFailures", ss.StoreFailures,
				"probeMin", ss.ProbeMin,
				"probeAvg", ss.ProbeAvg,
				"probeMax", ss.ProbeMax,
				"ramRecords", s.cache.ramLen(),
			}
			if n, ok := s.storedHosts(); ok {
				args = append(args, "storedHosts", n)
			}
			if rss, ok := residentBytes(); ok {
				args = append(args, "rss", formatBytes(rss))
			}
			s.log.Info("stats", args...)
		}
	}
}

// storedHosts counts records in stores that can list their keys.
func (s *Service) storedHosts() (int, bool) {
	lister, ok := s.kv.(interface {
		Keys(prefix string) ([]string, error)
	})
	if !ok {
		return 0, false
	}
	keys, err := lister.Keys(recordKeyPrefix)
	if err != nil {
		return 0, false
	}
	return len(keys), true
}
