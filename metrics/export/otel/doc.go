// Package otel exports goAccount counters and latency histograms through
// OpenTelemetry observable instruments.
//
// Counters are grouped into one Int64ObservableCounter per family (account,
// login, email, code, password, session, store) with an event attribute.
// Histograms are an Int64ObservableGauge keyed by the le attribute plus a
// count gauge. Audit drops carry an event_type attribute. A single
// callback reads [goAccount.Engine.MetricsSnapshot] per collection.
//
// The caller owns the MeterProvider.
package otel
