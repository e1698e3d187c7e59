package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	eventKey  = attribute.Key("event")
	boundKey  = attribute.Key("le")
	auditType = attribute.Key(internaldefs.AuditDroppedLabel)
)

type metricsSource interface {
	MetricsSnapshot() goAccount.MetricsSnapshot
	AuditDroppedByType() map[string]uint64
}

// familyCounter is one instrument per counter family; each engine counter
// is a data point carrying its event attribute.
type familyCounter struct {
	instrument metric.Int64ObservableCounter
	points     []familyPoint
}

type familyPoint struct {
	id   goAccount.MetricID
	opts metric.ObserveOption
}

type latencyHistogram struct {
	id      goAccount.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters as observable OTel instruments,
// grouped by family: goaccount_email_events_total{event="primary_changed"}
// and so on. Histograms are a cumulative bucket gauge keyed by le plus a
// count gauge.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []familyCounter
	histograms   []latencyHistogram
	auditDropped metric.Int64ObservableCounter
	boundOpts    []metric.ObserveOption
}

// NewOTelExporter registers the instruments on meter and observes engine on
// every collection. Close unregisters the callback.
func NewOTelExporter(meter metric.Meter, engine *goAccount.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	for _, le := range internaldefs.HistogramBoundLabels {
		exporter.boundOpts = append(exporter.boundOpts, metric.WithAttributes(boundKey.String(le)))
	}

	var observables []metric.Observable

	for _, family := range internaldefs.Families() {
		name := internaldefs.FamilyName(family)
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(internaldefs.FamilyHelp[family]))
		if err != nil {
			return nil, fmt.Errorf("create family counter %s: %w", name, err)
		}
		fc := familyCounter{instrument: ins}
		for _, def := range internaldefs.CounterDefs {
			if def.Family == family {
				fc.points = append(fc.points, familyPoint{
					id:   def.ID,
					opts: metric.WithAttributes(eventKey.String(def.Event)),
				})
			}
		}
		exporter.families = append(exporter.families, fc)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative count per bucket."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		exporter.histograms = append(exporter.histograms, latencyHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, fc := range e.families {
		for _, p := range fc.points {
			observer.ObserveInt64(fc.instrument, int64(snapshot.Counters[p.id]), p.opts)
		}
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, opt := range e.boundOpts {
			observer.ObserveInt64(h.buckets, int64(cumulative[i]), opt)
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	dropped := e.source.AuditDroppedByType()
	types := make([]string, 0, len(dropped))
	for t := range dropped {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		observer.ObserveInt64(e.auditDropped, int64(dropped[t]), metric.WithAttributes(auditType.String(t)))
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
