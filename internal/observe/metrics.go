// SPDX-License-Identifier: MIT
//
// Package observe holds the OpenTelemetry instruments of the capture
// pipeline and the Prometheus bridge that exposes them on /metrics.
// Tests should build Metrics from their own MeterProvider to avoid sharing
// global state.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all pipeline metrics.
const meterName = "pdmstream"

// Metrics holds the pipeline instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// Blocks counts processed capture blocks.
	Blocks metric.Int64Counter

	// Overruns counts frames dropped because the consumer fell behind.
	Overruns metric.Int64Counter

	// Faults counts peripheral and state errors. Use with attribute:
	//   attribute.String("kind", "peripheral"|"state")
	Faults metric.Int64Counter

	// ProcessDuration tracks time spent in the capture handler per block.
	ProcessDuration metric.Float64Histogram

	// Level is the RMS level of the last block in dBFS.
	Level metric.Float64Gauge
}

// processBuckets are histogram boundaries (in seconds) sized for a handler
// that must finish well inside one block period.
var processBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Blocks, err = m.Int64Counter("pdm.blocks",
		metric.WithDescription("Capture blocks processed."),
	); err != nil {
		return nil, err
	}
	if met.Overruns, err = m.Int64Counter("pdm.overruns",
		metric.WithDescription("Frames dropped because the consumer fell behind."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("pdm.faults",
		metric.WithDescription("Peripheral and state errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("pdm.process.duration",
		metric.WithDescription("Time spent filtering and dispatching one block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Level, err = m.Float64Gauge("pdm.level",
		metric.WithDescription("RMS level of the most recent block."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}

	return met, nil
}
