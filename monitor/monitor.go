// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the client-side sync metrics. All methods are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	ConnectionOpen   prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	ReconnectsArmed  prometheus.Counter
	FramesReceived   *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	SnapshotFetches  *prometheus.CounterVec
	StaleResponses   prometheus.Counter
	FetchLatency     prometheus.Histogram
	CommandsRejected *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open realtime connections",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of websocket handshakes attempted",
		}),
		ReconnectsArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of reconnect timers armed after an unexpected close",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound realtime frames by type",
		}, []string{"type"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		SnapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot fetches by result",
		}, []string{"result"}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_stale_responses_total",
			Help:      "Snapshot responses discarded because a newer request was issued",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_fetch_seconds",
			Help:      "Snapshot fetch latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Moves rejected locally before reaching the server, by reason",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionOpen,
			m.ConnectAttempts,
			m.ReconnectsArmed,
			m.FramesReceived,
			m.FramesDropped,
			m.SnapshotFetches,
			m.StaleResponses,
			m.FetchLatency,
			m.CommandsRejected,
		)
	}

	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ConnectionOpen.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ConnectionOpen.Dec()
	}
}

func (m *Metrics) IncConnectAttempts() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) IncReconnectsArmed() {
	if m != nil {
		m.ReconnectsArmed.Inc()
	}
}

func (m *Metrics) IncFrameReceived(eventType string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncFramesDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

// ObserveFetch records one snapshot fetch; result is "ok", "error" or "stale".
func (m *Metrics) ObserveFetch(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SnapshotFetches.WithLabelValues(result).Inc()
	m.FetchLatency.Observe(took.Seconds())
	if result == "stale" {
		m.StaleResponses.Inc()
	}
}

func (m *Metrics) IncCommandRejected(reason string) {
	if m != nil {
		m.CommandsRejected.WithLabelValues(reason).Inc()
	}
}

type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
	server    *http.Server
	mutex     sync.Mutex
}

var publishOnce sync.Once

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}

	// expvar names are process-global
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
	})
	return m
}

func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Handler serves /metrics, /healthz and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/debug/vars", expvar.Handler())
	return r
}

// StartServer serves Handler on addr in the background.
func (m *Monitor) StartServer(addr string, onError func(error)) {
	m.mutex.Lock()
	m.server = &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := m.server
	m.mutex.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && onError != nil {
			onError(err)
		}
	}()
}

func (m *Monitor) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
