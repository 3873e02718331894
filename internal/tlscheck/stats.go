package tlscheck

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type statsCollector struct {
	resolutions    atomic.Uint64
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	probesPositive atomic.Uint64
	probesNegative atomic.Uint64
	peerOK         atomic.Uint64
	peerFailed     atomic.Uint64
	storeFailures  atomic.Uint64

	probeCount atomic.Uint64
	probeTotal atomic.Uint64 // nanoseconds
	probeMin   atomic.Uint64
	probeMax   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.probeMin.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) observeProbe(enabled bool) {
	if enabled {
		s.probesPositive.Add(1)
	} else {
		s.probesNegative.Add(1)
	}
}

func (s *statsCollector) observeProbeLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	n := uint64(d)

	s.probeCount.Add(1)
	s.probeTotal.Add(n)

	for {
		cur := s.probeMin.Load()
		if n >= cur {
			break
		}
		if s.probeMin.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.probeMax.Load()
		if n <= cur {
			break
		}
		if s.probeMax.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) observePeer(err error) {
	if err != nil {
		s.peerFailed.Add(1)
		return
	}
	s.peerOK.Add(1)
}

type statsSnapshot struct {
	Resolutions    uint64
	CacheHits      uint64
	CacheMisses    uint64
	ProbesPositive uint64
	ProbesNegative uint64
	PeerOK         uint64
	PeerFailed     uint64
	StoreFailures  uint64

	ProbeMin time.Duration
	ProbeAvg time.Duration
	ProbeMax time.Duration
}

func (s *statsCollector) Snapshot() statsSnapshot {
	ss := statsSnapshot{
		Resolutions:    s.resolutions.Load(),
		CacheHits:      s.cacheHits.Load(),
		CacheMisses:    s.cacheMisses.Load(),
		ProbesPositive: s.probesPositive.Load(),
		ProbesNegative: s.probesNegative.Load(),
		PeerOK:         s.peerOK.Load(),
		PeerFailed:     s.peerFailed.Load(),
		StoreFailures:  s.storeFailures.Load(),
	}
	count := s.probeCount.Load()
	if count == 0 {
		return ss
	}
	minv := s.probeMin.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	ss.ProbeMin = time.Duration(minv)
	ss.ProbeMax = time.Duration(s.probeMax.Load())
	ss.ProbeAvg = time.Duration(s.probeTotal.Load() / count)
	return ss
}

// registry exposes the collector's counters for scraping.
func (s *statsCollector) registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	counter := func(name, help string, v *atomic.Uint64, labels prometheus.Labels) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "tlscheck",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v.Load()) })
	}
	reg.MustRegister(
		counter("resolutions_total", "Resolve calls, including internal hops.", &s.resolutions, nil),
		counter("cache_lookups_total", "Cache lookups by result.", &s.cacheHits, prometheus.Labels{"result": "fresh"}),
		counter("cache_lookups_total", "Cache lookups by result.", &s.cacheMisses, prometheus.Labels{"result": "miss"}),
		counter("probes_total", "Direct probes by outcome.", &s.probesPositive, prometheus.Labels{"https": "true"}),
		counter("probes_total", "Direct probes by outcome.", &s.probesNegative, prometheus.Labels{"https": "false"}),
		counter("peer_queries_total", "Peer queries by result.", &s.peerOK, prometheus.Labels{"result": "ok"}),
		counter("peer_queries_total", "Peer queries by result.", &s.peerFailed, prometheus.Labels{"result": "unreachable"}),
		counter("cache_store_failures_total", "Records that could not be written to the store.", &s.storeFailures, nil),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tlscheck",
			Name:      "probe_avg_seconds",
			Help:      "Mean direct probe duration since start.",
		}, func() float64 { return s.Snapshot().ProbeAvg.Seconds() }),
	)
	return reg
}
