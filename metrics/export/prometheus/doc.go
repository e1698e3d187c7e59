// Package prometheus exposes goAccount metrics as a prometheus.Collector.
//
// [NewPrometheusExporter] wraps a [goAccount.Engine]. Register the exporter
// on your own registry, or mount [PrometheusExporter.Handler], which serves
// it from a private one. Counter names are goaccount_*_total; the latency
// histograms are goaccount_login_latency_seconds and
// goaccount_validate_latency_seconds.
package prometheus
