package loadprofile

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "txbench"

// Stats aggregates request outcomes. It is safe for concurrent use by all users of a run.
type Stats struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	total        atomic.Uint64
	failed       atomic.Uint64
	totalLatency atomic.Int64
}

// Summary is a point-in-time view of the run's statistics.
type Summary struct {
	Requests    uint64
	Failures    uint64
	MeanLatency time.Duration
}

func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests issued against the API under test.",
		}, []string{"name", "method", "code"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "request_failures_total",
			Help:      "Requests that failed at the transport level or returned a 4xx/5xx status.",
		}, []string{"name", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency against the API under test.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "method"}),
	}

	for _, c := range []prometheus.Collector{s.requests, s.failures, s.latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register load metrics: %w", err)
		}
	}
	return s, nil
}

// Record accounts for one request. A code of 0 means no response was received.
func (s *Stats) Record(name, method string, code int, elapsed time.Duration, err error) {
	codeLabel := "error"
	if code != 0 {
		codeLabel = strconv.Itoa(code)
	}
	s.requests.WithLabelValues(name, method, codeLabel).Inc()
	s.latency.WithLabelValues(name, method).Observe(elapsed.Seconds())
	s.total.Add(1)
	s.totalLatency.Add(int64(elapsed))

	if err != nil || code == 0 || code >= 400 {
		s.failures.WithLabelValues(name, method).Inc()
		s.failed.Add(1)
	}
}

func (s *Stats) Summary() Summary {
	total := s.total.Load()
	sum := Summary{Requests: total, Failures: s.failed.Load()}
	if total > 0 {
		sum.MeanLatency = time.Duration(s.totalLatency.Load() / int64(total))
	}
	return sum
}
