// Package metrics exposes Prometheus counters and gauges over the
// transport (C8), tip watcher (C9), and capacity manager (C10)
// subsystems. It is instrumentation only: nothing here opens an HTTP
// sink, and a caller that never touches this package pays only the cost
// of constructing one *prometheus.Registry. Grounded in
// orbas1-Synnergy's system_health_logging.go (private registry,
// MustRegister at construction) and luxfi-consensus's direct
// client_golang dependency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors the core records against. A process
// that wants an HTTP sink can do `promhttp.HandlerFor(reg.Registry, ...)`
// with Registry exported for that purpose; none of the core's own code
// does so.
type Registry struct {
	Registry *prometheus.Registry

	deltaFetchesTotal   *prometheus.CounterVec
	deltaFetchErrors    *prometheus.CounterVec
	tipAdvancesTotal    prometheus.Counter
	capacityRejections  *prometheus.CounterVec
	capacityUsageBytes  *prometheus.GaugeVec
	connectionsAccepted prometheus.Counter
}

// New builds a fresh, independently-registered Registry. Each caller
// should keep a single instance for the lifetime of its process;
// constructing two against the same *prometheus.Registry would panic on
// duplicate registration, so New always allocates its own.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Registry: reg,
		deltaFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "communitas_delta_fetches_total",
			Help: "Delta fetch attempts made by the tip watcher, by peer address.",
		}, []string{"peer"}),
		deltaFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "communitas_delta_fetch_errors_total",
			Help: "Delta fetch attempts that failed, by peer address.",
		}, []string{"peer"}),
		tipAdvancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "communitas_tip_advances_total",
			Help: "Number of times the local op-log tip advanced.",
		}),
		capacityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "communitas_capacity_rejections_total",
			Help: "Admission checks rejected by the capacity manager, by bucket.",
		}, []string{"bucket"}),
		capacityUsageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "communitas_capacity_usage_bytes",
			Help: "Bytes consumed per capacity bucket.",
		}, []string{"bucket"}),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "communitas_transport_connections_accepted_total",
			Help: "QUIC connections accepted by the delta server.",
		}),
	}
	reg.MustRegister(
		r.deltaFetchesTotal,
		r.deltaFetchErrors,
		r.tipAdvancesTotal,
		r.capacityRejections,
		r.capacityUsageBytes,
		r.connectionsAccepted,
	)
	return r
}

func (r *Registry) ObserveDeltaFetch(peer string, err error) {
	if r == nil {
		return
	}
	r.deltaFetchesTotal.WithLabelValues(peer).Inc()
	if err != nil {
		r.deltaFetchErrors.WithLabelValues(peer).Inc()
	}
}

func (r *Registry) ObserveTipAdvance() {
	if r == nil {
		return
	}
	r.tipAdvancesTotal.Inc()
}

func (r *Registry) ObserveCapacityRejection(bucket string) {
	if r == nil {
		return
	}
	r.capacityRejections.WithLabelValues(bucket).Inc()
}

func (r *Registry) SetCapacityUsage(bucket string, bytes uint64) {
	if r == nil {
		return
	}
	r.capacityUsageBytes.WithLabelValues(bucket).Set(float64(bytes))
}

func (r *Registry) ObserveConnectionAccepted() {
	if r == nil {
		return
	}
	r.connectionsAccepted.Inc()
}
