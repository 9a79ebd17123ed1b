package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/svbundle"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal       metric.Int64Counter
	BuildErrorsTotal  metric.Int64Counter
	BuildDuration     metric.Float64Histogram
	PhaseDuration     metric.Float64Histogram
	BuildWarnings     metric.Int64Counter
	OutputBytesTotal  metric.Int64Counter
	OutputFilesTotal  metric.Int64Counter
	ModulesTransforms metric.Int64Counter

	// Copy metrics
	FilesCopiedTotal  metric.Int64Counter
	FilesSkippedTotal metric.Int64Counter
	BytesCopiedTotal  metric.Int64Counter

	// Watch metrics
	RebuildsTriggered metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for build spans. Without InitTelemetry the
// global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	// Build metrics
	m.BuildsTotal, _ = meter.Int64Counter(
		"svbundle.builds.total",
		metric.WithDescription("Total number of bundle builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"svbundle.builds.errors.total",
		metric.WithDescription("Total number of failed bundle builds"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"svbundle.builds.duration",
		metric.WithDescription("Duration of a complete build pass"),
		metric.WithUnit("ms"),
	)

	m.PhaseDuration, _ = meter.Float64Histogram(
		"svbundle.builds.phase.duration",
		metric.WithDescription("Duration of a single build phase"),
		metric.WithUnit("ms"),
	)

	m.BuildWarnings, _ = meter.Int64Counter(
		"svbundle.builds.warnings.total",
		metric.WithDescription("Total number of non-fatal build warnings"),
		metric.WithUnit("{warning}"),
	)

	m.OutputBytesTotal, _ = meter.Int64Counter(
		"svbundle.outputs.bytes.total",
		metric.WithDescription("Total bytes written to bundle outputs"),
		metric.WithUnit("By"),
	)

	m.OutputFilesTotal, _ = meter.Int64Counter(
		"svbundle.outputs.files.total",
		metric.WithDescription("Total number of bundle output files written"),
		metric.WithUnit("{file}"),
	)

	m.ModulesTransforms, _ = meter.Int64Counter(
		"svbundle.modules.transforms.total",
		metric.WithDescription("Total number of module content transforms applied"),
		metric.WithUnit("{transform}"),
	)

	// Copy metrics
	m.FilesCopiedTotal, _ = meter.Int64Counter(
		"svbundle.copy.files.total",
		metric.WithDescription("Total number of static files copied"),
		metric.WithUnit("{file}"),
	)

	m.FilesSkippedTotal, _ = meter.Int64Counter(
		"svbundle.copy.skipped.total",
		metric.WithDescription("Total number of copies skipped because the destination existed"),
		metric.WithUnit("{file}"),
	)

	m.BytesCopiedTotal, _ = meter.Int64Counter(
		"svbundle.copy.bytes.total",
		metric.WithDescription("Total bytes of static files copied"),
		metric.WithUnit("By"),
	)

	// Watch metrics
	m.RebuildsTriggered, _ = meter.Int64Counter(
		"svbundle.watch.rebuilds.total",
		metric.WithDescription("Total number of rebuilds triggered by file changes"),
		metric.WithUnit("{build}"),
	)

	return m
}
