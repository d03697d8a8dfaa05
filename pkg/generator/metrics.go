package generator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はプロバイダ呼び出しの Prometheus メトリクスです。
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics はメトリクスを作成し reg に登録します。reg が nil なら登録しません。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudnodes_requests_total",
				Help: "Total generation requests by provider and status.",
			},
			[]string{"provider", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudnodes_request_duration_seconds",
				Help:    "Generation request latency in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"provider"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(provider, status).Inc()
	m.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
