// Package telemetry exports traces, metrics and logs over OTLP, annotates
// database spans and runs continuous profiling for the engine.
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Metric attribute keys
var (
	AttrBundleID  = attribute.Key("bundle_id")
	AttrOutcome   = attribute.Key("outcome")
	AttrOperation = attribute.Key("operation")
	AttrCacheHit  = attribute.Key("cache_hit")
)

// EngineDurationBuckets bound allocate and reverse latency, in seconds
var EngineDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
