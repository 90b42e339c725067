// Package metrics exposes Prometheus collectors for the approval workflow service
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/event"
)

const namespace = "procurement"

// Metrics holds every collector registered by the service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Workflow
	EventsTotal        *prometheus.CounterVec
	StepDecisions      *prometheus.CounterVec
	InstancesCreated   *prometheus.CounterVec
	InstancesCompleted *prometheus.CounterVec
	InstanceDuration   *prometheus.HistogramVec
	Reconciled         prometheus.Counter

	// Store
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec
}

// New registers the service collectors plus Go runtime and process collectors on a
// fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_events_total",
				Help:      "Domain events emitted by type",
			},
			[]string{"type"},
		),
		StepDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_step_decisions_total",
				Help:      "Approval step decisions by outcome",
			},
			[]string{"decision"},
		),
		InstancesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_instances_created_total",
				Help:      "Workflow instances created by document type",
			},
			[]string{"document_type"},
		),
		InstancesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_instances_completed_total",
				Help:      "Workflow instances reaching a terminal status",
			},
			[]string{"document_type", "status"},
		),
		InstanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_instance_duration_seconds",
				Help:      "Time from instance creation to completion",
				Buckets:   []float64{60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600},
			},
			[]string{"document_type"},
		),
		Reconciled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_instances_reconciled_total",
			Help:      "Instances whose aggregate was repaired by the reconciler",
		}),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Store operations that failed, by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
	}
}

// Registry returns the registry backing the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDB exports connection pool statistics for db
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	err := m.registry.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by route template
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveStore records one store operation; it matches sqlstore.Observer
func (m *Metrics) ObserveStore(operation string, d time.Duration, err error) {
	m.StoreDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.StoreErrors.WithLabelValues(operation, string(apperr.KindOf(err))).Inc()
	}
}

// HandleEvent updates workflow collectors from a domain event
func (m *Metrics) HandleEvent(_ context.Context, evt *event.Event) error {
	m.EventsTotal.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.TypeInstanceCreated:
		m.InstancesCreated.WithLabelValues(evt.DocumentType).Inc()
	case event.TypeStepDecided:
		m.StepDecisions.WithLabelValues(evt.GetPayloadString("decision")).Inc()
	case event.TypeInstanceApproved, event.TypeInstanceRejected:
		status := "approved"
		if evt.Type == event.TypeInstanceRejected {
			status = "rejected"
		}
		m.InstancesCompleted.WithLabelValues(evt.DocumentType, status).Inc()
		if secs, ok := evt.Payload["duration_seconds"].(float64); ok {
			m.InstanceDuration.WithLabelValues(evt.DocumentType).Observe(secs)
		}
	case event.TypeInstanceReconciled:
		m.Reconciled.Inc()
	}
	return nil
}

// Register subscribes the collectors to every domain event
func (m *Metrics) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "metrics", m.HandleEvent)
}
