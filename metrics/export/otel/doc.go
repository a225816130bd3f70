// Package otel publishes engine metrics as OpenTelemetry observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter on a
// caller-supplied Meter. Each latency histogram becomes a cumulative bucket
// gauge with an "le" attribute plus a count gauge. A single callback reads the
// engine snapshot on each collection.
package otel
