// Package storemetrics instruments a store.Database with Prometheus metrics.
package storemetrics

import (
	"context"
	"time"

	"github.com/maruel/docmap/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the store metrics.
type Collector struct {
	Operations *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	// Affected counts documents matched by updates and removed by removes.
	Affected *prometheus.CounterVec
}

// New creates a collector registered on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"collection", "op"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of failed store operations",
			},
			[]string{"collection", "op"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmap",
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"collection", "op"},
		),
		Affected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Subsystem: "store",
				Name:      "documents_affected_total",
				Help:      "Documents matched by updates or removed",
			},
			[]string{"collection", "op"},
		),
	}
}

// Wrap returns db instrumented with c.
func (c *Collector) Wrap(db store.Database) store.Database {
	return &database{Database: db, c: c}
}

func (c *Collector) observe(collection, op string, start time.Time, err error) {
	c.Operations.WithLabelValues(collection, op).Inc()
	c.Duration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.Errors.WithLabelValues(collection, op).Inc()
	}
}

type database struct {
	store.Database
	c *Collector
}

func (d *database) Collection(name string) store.Collection {
	return &collection{inner: d.Database.Collection(name), name: name, c: d.c}
}

type collection struct {
	inner store.Collection
	name  string
	c     *Collector
}

func (m *collection) FindOne(ctx context.Context, sel store.Selector, opts *store.FindOptions) (store.Document, error) {
	start := time.Now()
	doc, err := m.inner.FindOne(ctx, sel, opts)
	m.c.observe(m.name, "findOne", start, err)
	return doc, err
}

func (m *collection) Insert(ctx context.Context, doc store.Document) error {
	start := time.Now()
	err := m.inner.Insert(ctx, doc)
	m.c.observe(m.name, "insert", start, err)
	return err
}

func (m *collection) Update(ctx context.Context, sel store.Selector, upd store.Update) (int, error) {
	start := time.Now()
	n, err := m.inner.Update(ctx, sel, upd)
	m.c.observe(m.name, "update", start, err)
	m.c.Affected.WithLabelValues(m.name, "update").Add(float64(n))
	return n, err
}

func (m *collection) Remove(ctx context.Context, sel store.Selector) (int, error) {
	start := time.Now()
	n, err := m.inner.Remove(ctx, sel)
	m.c.observe(m.name, "remove", start, err)
	m.c.Affected.WithLabelValues(m.name, "remove").Add(float64(n))
	return n, err
}

func (m *collection) Count(ctx context.Context, sel store.Selector) (int, error) {
	start := time.Now()
	n, err := m.inner.Count(ctx, sel)
	m.c.observe(m.name, "count", start, err)
	return n, err
}
