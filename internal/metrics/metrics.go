package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bookstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "proxy_requests_total",
		Help:      "Upstream requests forwarded by the gateway, by status class.",
	}, []string{"class"})

	ProxyRedirectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "proxy_redirects_total",
		Help:      "Upstream redirects followed with re-attached credentials.",
	})

	ProxyBytesStreamed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "proxy_bytes_streamed_total",
		Help:      "Total media bytes piped from upstream to callers.",
	})

	SessionOpensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "session_opens_total",
		Help:      "Play session negotiations by outcome.",
	}, []string{"outcome"})

	SeeksAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "seeks_applied_total",
		Help:      "Seeks applied by the playback controller, by kind.",
	}, []string{"kind"})

	SeekVerifyMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "seek_verify_mismatches_total",
		Help:      "Applied seeks that landed outside the verification tolerance.",
	})

	ProgressWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "progress_writes_total",
		Help:      "Throttled position writes to the progress store.",
	})

	SleepTimerExpiries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "sleep_timer_expiries_total",
		Help:      "Sleep timer countdowns that reached zero and paused playback.",
	})

	WSClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookstream",
		Name:      "ws_clients_connected",
		Help:      "Currently connected WebSocket clients.",
	})

	LibraryCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookstream",
		Name:      "library_cache_requests_total",
		Help:      "Library metadata cache lookups by result.",
	}, []string{"result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProxyRequestsTotal,
		ProxyRedirectsTotal,
		ProxyBytesStreamed,
		SessionOpensTotal,
		SeeksAppliedTotal,
		SeekVerifyMismatches,
		ProgressWritesTotal,
		SleepTimerExpiries,
		WSClientsConnected,
		LibraryCacheRequests,
	)
}
