package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// Recorder counts transferred evidence. It implements domain.StatsRecorder
// and keeps its metrics on a private registry served at /metrics.
type Recorder struct {
	registry *prometheus.Registry

	outputTotal   prometheus.Counter
	outputBytes   prometheus.Counter
	activeWorkers prometheus.Gauge

	count  atomic.Int64
	bytes  atomic.Int64
	active atomic.Int64
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		outputTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_evidence_output_total",
			Help: "Total number of evidence records sent to the collector service",
		}),
		outputBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_evidence_output_bytes_total",
			Help: "Total size of evidence records sent to the collector service",
		}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collector_active_workers",
			Help: "Number of instances with a transfer worker running",
		}),
	}
}

func (r *Recorder) Record(delta domain.TransferStats) {
	r.count.Add(delta.OutputCount)
	r.bytes.Add(delta.OutputBytes)
	r.outputTotal.Add(float64(delta.OutputCount))
	r.outputBytes.Add(float64(delta.OutputBytes))
}

func (r *Recorder) SetActiveWorkers(n int) {
	r.active.Store(int64(n))
	r.activeWorkers.Set(float64(n))
}

func (r *Recorder) Snapshot() domain.StatsSnapshot {
	return domain.StatsSnapshot{
		OutputCount:   r.count.Load(),
		OutputBytes:   r.bytes.Load(),
		ActiveWorkers: int(r.active.Load()),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
