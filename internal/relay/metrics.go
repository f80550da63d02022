package relay

import "github.com/prometheus/client_golang/prometheus"

// metrics live on a per-Server registry, several servers can coexist in
// one process. The tests rely on that.
type metrics struct {
	requests    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	storeErrors prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slm_relay_requests_total",
				Help: "API requests received, by endpoint.",
			},
			[]string{"endpoint"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slm_relay_request_failures_total",
				Help: "API requests answered with a non-2xx status, by endpoint.",
			},
			[]string{"endpoint"},
		),
		storeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "slm_relay_store_errors_total",
				Help: "Store writes that failed while serving API requests.",
			},
		),
	}
	reg.MustRegister(m.requests, m.failures, m.storeErrors)
	return m
}
