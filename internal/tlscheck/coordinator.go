package tlscheck

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.trai.ch/zerr"
)

// hopReserve is kept back from the caller's deadline when sizing a peer query,
// so that a peer gives up on its own hops before its caller gives up on it.
const hopReserve = 50 * time.Millisecond

// errHopTimeout means a peer took the traversal but did not answer in time. It
// may have forwarded the traversal already, so it is not treated as
// unreachable.
var errHopTimeout = zerr.New("peer did not answer in time")

// CoordinatorConfig is fixed for the life of a Coordinator.
type CoordinatorConfig struct {
	// Federation lists every peer address, usually including this instance.
	Federation []string

	// CacheTTL is how long a stored answer is served without probing.
	CacheTTL time.Duration

	// MaxRecursion is the hop budget given to externally originated queries.
	MaxRecursion int

	// Parallel asks missing peers all at once instead of one after another.
	Parallel bool

	// PeerTimeout bounds a single peer query, including whatever that peer
	// does to answer it. A hop never gets more than its caller has left.
	PeerTimeout time.Duration
}

// HostProber is satisfied by *Prober.
type HostProber interface {
	Probe(ctx context.Context, host string) bool
}

// Coordinator resolves a host from cache, a direct probe, or the federation.
type Coordinator struct {
	cfg    CoordinatorConfig
	cache  *Cache
	prober HostProber
	peers  Peers
	log    *slog.Logger
	tracer trace.Tracer
	stats  *statsCollector
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTracer traces each Resolve with t.
func WithTracer(t trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) { c.tracer = t }
}

func withCoordinatorStats(s *statsCollector) CoordinatorOption {
	return func(c *Coordinator) { c.stats = s }
}

func NewCoordinator(cfg CoordinatorConfig, cache *Cache, prober HostProber, peers Peers, log *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	cfg.Federation = append([]string(nil), cfg.Federation...)
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 10 * time.Second
	}
	c := &Coordinator{
		cfg:    cfg,
		cache:  cache,
		prober: prober,
		peers:  peers,
		log:    log,
		tracer: noop.NewTracerProvider().Tracer("tlscheck"),
		stats:  newStatsCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTraversal starts a traversal for an externally originated query.
func (c *Coordinator) NewTraversal(id, host, self string) Traversal {
	t := Traversal{ID: id, Host: host, Budget: c.cfg.MaxRecursion}
	if self != "" {
		t.Visited = []string{self}
	}
	return t
}

// Resolve answers whether host serves HTTPS. It never fails; anything short of
// positive evidence resolves to false.
func (c *Coordinator) Resolve(ctx context.Context, host string, t Traversal) bool {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Resolve", trace.WithAttributes(
		attribute.String("host", host),
		attribute.Int("budget", t.Budget),
		attribute.Int("visited", len(t.Visited)),
		attribute.Bool("parallel", c.cfg.Parallel),
	))
	defer span.End()

	log := c.log.With("host", host, "traversal", t.ID)
	c.stats.resolutions.Add(1)

	if rec, ok := c.cache.Lookup(ctx, host); ok && rec.Fresh(c.cache.Now(), c.cfg.CacheTTL) {
		c.stats.cacheHits.Add(1)
		span.SetAttributes(attribute.String("source", "cache"))
		log.Debug("resolved from cache", "httpsEnabled", rec.HTTPSEnabled)
		return rec.HTTPSEnabled
	}
	c.stats.cacheMisses.Add(1)

	start := time.Now()
	enabled := c.prober.Probe(ctx, host)
	c.stats.observeProbeLatency(time.Since(start))
	c.stats.observeProbe(enabled)

	t.Host = host
	missing := t.missing(c.cfg.Federation)
	if enabled || len(missing) == 0 || t.Budget <= 0 {
		span.SetAttributes(attribute.String("source", "probe"))
		log.Info("resolved by probe", "httpsEnabled", enabled)
		return c.finalize(ctx, host, enabled)
	}

	var answer bool
	if c.cfg.Parallel {
		answer = c.askParallel(ctx, log, t, missing)
	} else {
		answer = c.askSequential(ctx, log, t, missing)
	}
	span.SetAttributes(attribute.String("source", "federation"))
	log.Info("resolved by federation", "httpsEnabled", answer)
	return c.finalize(ctx, host, answer)
}

// finalize persists the answer unless the caller went away first, in which
// case the negative answer is an artifact of cancellation and is not stored.
func (c *Coordinator) finalize(ctx context.Context, host string, enabled bool) bool {
	if err := ctx.Err(); err != nil && !enabled {
		c.log.Debug("answer not cached, request cancelled", "host", host, "error", err)
		return false
	}
	c.cache.Store(context.WithoutCancel(ctx), host, enabled)
	return enabled
}

// askSequential hands the traversal to one peer at a time. A peer that cannot
// be reached costs no budget: the next one is asked with the same hop count.
// A peer that was reached but ran out of time ends the walk, since the
// remaining peers may already be part of its subtree.
func (c *Coordinator) askSequential(ctx context.Context, log *slog.Logger, t Traversal, missing []string) bool {
	budget := t.Budget - 1
	for _, addr := range missing {
		if err := ctx.Err(); err != nil {
			log.Debug("traversal abandoned", "error", err)
			return false
		}
		t = t.with(t.Budget, addr)
		hop := t.with(budget)

		enabled, err := c.queryPeer(ctx, addr, hop, c.hopTimeout(ctx))
		if err == nil {
			log.Debug("peer answered", "peer", addr, "httpsEnabled", enabled, "budget", budget)
			return enabled
		}
		if errors.Is(err, errHopTimeout) {
			log.Warn("peer timed out, ending traversal", "peer", addr)
			return false
		}
		log.Warn("peer unreachable, trying next", "peer", addr, "error", err)
	}
	return false
}

// askParallel asks up to budget missing peers at once, each forbidden from
// recursing further. The first positive answer wins.
func (c *Coordinator) askParallel(ctx context.Context, log *slog.Logger, t Traversal, missing []string) bool {
	n := min(len(missing), t.Budget)
	targets := missing[:n]
	hop := t.with(0, targets...)

	// Outstanding queries outlive this call and end at their own timeout.
	timeout := c.hopTimeout(ctx)
	detached := context.WithoutCancel(ctx)
	b := newBroadcast(n)
	for _, addr := range targets {
		go func(addr string) {
			enabled, err := c.queryPeer(detached, addr, hop, timeout)
			if err != nil {
				log.Warn("peer unreachable", "peer", addr, "error", err)
				enabled = false
			}
			if !b.observe(enabled) {
				log.Debug("late peer answer discarded", "peer", addr, "httpsEnabled", enabled)
			}
		}(addr)
	}

	select {
	case enabled := <-b.done:
		return enabled
	case <-ctx.Done():
		log.Warn("traversal abandoned before federation answered", "error", ctx.Err())
		return false
	}
}

// hopTimeout is PeerTimeout, cut down to what ctx leaves after hopReserve.
func (c *Coordinator) hopTimeout(ctx context.Context) time.Duration {
	timeout := c.cfg.PeerTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline)-hopReserve)
	}
	return timeout
}

func (c *Coordinator) queryPeer(ctx context.Context, addr string, hop Traversal, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, errHopTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	enabled, err := c.peers.Query(ctx, addr, queryFor(hop))
	c.stats.observePeer(err)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, errHopTimeout
	}
	return enabled, err
}
