package metrics

import (
	"strconv"
	"time"

	"custody-chain/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "custody"

// Metrics 持有托管服务的全部 Prometheus 指标，使用独立的 Registry。
type Metrics struct {
	registry *prometheus.Registry

	walletsProvisioned *prometheus.CounterVec
	associations       *prometheus.CounterVec
	transfers          *prometheus.CounterVec
	transferDuration   *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New 创建并注册指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		walletsProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "provisioned_total",
			Help:      "Custodial accounts created on the ledger, by result.",
		}, []string{"result"}),
		associations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "associations_total",
			Help:      "Token association attempts, by status.",
		}, []string{"status"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Finished transfers, by asset and outcome.",
		}, []string{"asset", "outcome"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Time from intent to settled receipt.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"asset"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.walletsProvisioned,
		m.associations,
		m.transfers,
		m.transferDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WalletProvisioned 实现 wallet.Observer。
func (m *Metrics) WalletProvisioned(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.walletsProvisioned.WithLabelValues(result).Inc()
}

// Association 实现 wallet.Observer。
func (m *Metrics) Association(status wallet.AssociationStatus) {
	m.associations.WithLabelValues(status.String()).Inc()
}

// TransferFinished 实现 wallet.Observer。
func (m *Metrics) TransferFinished(asset, outcome string, elapsed time.Duration) {
	m.transfers.WithLabelValues(asset, outcome).Inc()
	m.transferDuration.WithLabelValues(asset).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records a served request.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if handler == "" {
		handler = "unknown"
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

var _ wallet.Observer = (*Metrics)(nil)
