// Package metrics provides Prometheus metrics for folio
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/folio/pkg/persistence"
)

// Metrics holds all Prometheus metrics for folio
type Metrics struct {
	// Persistence metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ResourcesTotal    *prometheus.GaugeVec

	// Buffered index mirroring
	FlushMirrorsTotal *prometheus.CounterVec

	// Ingest metrics
	IngestFilesTotal     prometheus.Counter
	IngestResourcesTotal *prometheus.CounterVec

	StartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{StartTime: time.Now()}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_persistence_operations_total",
			Help: "Total number of persistence operations",
		},
		[]string{"backend", "operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_persistence_operation_duration_seconds",
			Help:    "Duration of persistence operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"backend", "operation"},
	)

	m.ResourcesTotal = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "folio_resources_total",
			Help: "Number of resources stored per metadata adapter",
		},
		[]string{"adapter"},
	)

	m.FlushMirrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_flush_mirrors_total",
			Help: "Mutations mirrored to the index at flush",
		},
		[]string{"status"},
	)

	m.IngestFilesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_ingest_files_total",
			Help: "Total number of files uploaded by ingest",
		},
	)

	m.IngestResourcesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_ingest_resources_total",
			Help: "Total number of resources saved by ingest",
		},
		[]string{"model"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "folio_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.StartTime).Seconds() },
	)

	return m
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, persistence.ErrObjectNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// ObserveOperation records one backend call
func (m *Metrics) ObserveOperation(backend, operation string, d time.Duration, err error) {
	m.OperationsTotal.WithLabelValues(backend, operation, status(err)).Inc()
	m.OperationDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// ObserveFlush records mirrored and failed mutations of one flush
func (m *Metrics) ObserveFlush(applied, failed int) {
	m.FlushMirrorsTotal.WithLabelValues("applied").Add(float64(applied))
	m.FlushMirrorsTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) FileIngested() {
	m.IngestFilesTotal.Inc()
}

func (m *Metrics) ResourceIngested(model string) {
	m.IngestResourcesTotal.WithLabelValues(model).Inc()
}

// SetResourceCount updates the stored resource gauge of one adapter
func (m *Metrics) SetResourceCount(adapter string, n int) {
	m.ResourcesTotal.WithLabelValues(adapter).Set(float64(n))
}
