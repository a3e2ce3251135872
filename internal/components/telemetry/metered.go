package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeteredAPI forwards every report to an inner API and also counts broken
// components and warnings as otel instruments, keyed by the report id.
type MeteredAPI struct {
	inner    API
	broken   metric.Int64Counter
	warnings metric.Int64Counter
	meter    metric.Meter

	mu     sync.Mutex
	gauges map[string]metric.Int64Gauge
}

func NewMeteredAPI(inner API, meter metric.Meter) (*MeteredAPI, error) {
	broken, err := meter.Int64Counter(
		"mydylms.reports.broken",
		metric.WithDescription("Components reported as broken."),
	)
	if err != nil {
		return nil, err
	}
	warnings, err := meter.Int64Counter(
		"mydylms.reports.warning",
		metric.WithDescription("Warnings reported by components."),
	)
	if err != nil {
		return nil, err
	}
	return &MeteredAPI{
		inner:    inner,
		broken:   broken,
		warnings: warnings,
		meter:    meter,
		gauges:   map[string]metric.Int64Gauge{},
	}, nil
}

func (m *MeteredAPI) ReportBroken(id string, params ...any) {
	m.broken.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportBroken(id, params...)
}

func (m *MeteredAPI) ReportWarning(id string, params ...any) {
	m.warnings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportWarning(id, params...)
}

func (m *MeteredAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

// ReportCount records the count as a gauge named after the id, scoped ids
// like "cache: entries" become "mydylms.cache.entries".
func (m *MeteredAPI) ReportCount(id string, count int64) {
	gauge, err := m.gauge(id)
	if err != nil {
		m.inner.ReportWarning("telemetry.gauge", id, err)
	} else {
		gauge.Record(context.Background(), count)
	}
	m.inner.ReportCount(id, count)
}

func (m *MeteredAPI) gauge(id string) (metric.Int64Gauge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[id]; ok {
		return g, nil
	}
	g, err := m.meter.Int64Gauge(gaugeName(id))
	if err != nil {
		return nil, err
	}
	m.gauges[id] = g
	return g, nil
}

var gaugeNameReplacer = strings.NewReplacer(": ", ".", " ", "_", "-", "_")

func gaugeName(id string) string {
	return "mydylms." + gaugeNameReplacer.Replace(strings.ToLower(id))
}
