package web3

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
Prometheus metrics shared by transports, event streams and block sources. A nil
*Metrics is valid and records nothing.
*/
type Metrics struct {
	RpcRequests *prometheus.CounterVec
	RpcDuration *prometheus.HistogramVec
	RpcRetries  *prometheus.CounterVec
	LogsDecoded *prometheus.CounterVec
	LogsSkipped *prometheus.CounterVec
	Reconnects  *prometheus.CounterVec
	Reorgs      *prometheus.CounterVec
}

// Initializes and registers metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// Initializes and registers metrics with a custom registry.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		RpcRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_rpc_requests_total",
			Help: "JSON-RPC requests by network, method and outcome",
		}, []string{"network", "method", "status"}),
		RpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "web3_rpc_request_duration_seconds",
			Help:    "JSON-RPC round trip latency, including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"network", "method"}),
		RpcRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_rpc_retries_total",
			Help: "JSON-RPC requests retried after a transient failure",
		}, []string{"network", "method"}),
		LogsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_logs_decoded_total",
			Help: "Event logs decoded by event streams",
		}, []string{"event"}),
		LogsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_logs_skipped_total",
			Help: "Event logs skipped because they didn't match the event schema",
		}, []string{"event"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_subscription_reconnects_total",
			Help: "Websocket subscriptions re-established after a failure",
		}, []string{"network"}),
		Reorgs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web3_reorgs_total",
			Help: "Chain reorganizations detected by block sources",
		}, []string{"network"}),
	}
}

func (self *Metrics) observeRpc(network, method string, err error, dur time.Duration) {
	if self == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	self.RpcRequests.WithLabelValues(network, method, status).Inc()
	self.RpcDuration.WithLabelValues(network, method).Observe(dur.Seconds())
}

func (self *Metrics) observeRetry(network, method string) {
	if self == nil {
		return
	}
	self.RpcRetries.WithLabelValues(network, method).Inc()
}

func (self *Metrics) observeLog(event string, skipped bool) {
	if self == nil {
		return
	}
	if skipped {
		self.LogsSkipped.WithLabelValues(event).Inc()
		return
	}
	self.LogsDecoded.WithLabelValues(event).Inc()
}

func (self *Metrics) observeReconnect(network string) {
	if self == nil {
		return
	}
	self.Reconnects.WithLabelValues(network).Inc()
}

// Counts a reorg detected on the given network. Nil-safe.
func (self *Metrics) ObserveReorg(network string) {
	if self == nil {
		return
	}
	self.Reorgs.WithLabelValues(network).Inc()
}

var defaultMetrics atomic.Pointer[Metrics]

// Sets the metrics used by dispatchers created via "Dispatch". Nil disables them.
func SetDefaultMetrics(metrics *Metrics) {
	defaultMetrics.Store(metrics)
}

// Returns the metrics set via "SetDefaultMetrics", or nil.
func DefaultMetrics() *Metrics {
	return defaultMetrics.Load()
}
