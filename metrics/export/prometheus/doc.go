// Package prometheus exposes engine metrics through prometheus/client_golang.
//
// [Collector] implements prometheus.Collector over [authcore.Engine.MetricsSnapshot]:
// each authcore_*_total counter, the authcore_authenticate_latency_seconds
// histogram and the audit drop counter are read on every scrape. Register it
// on a registry of your choice; [Handler] does that for a private registry.
package prometheus
