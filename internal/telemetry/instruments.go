package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel/metric"
)

const (
	httpScopeName     = "github.com/steveyegge/pulse/youtrack"
	pipelineScopeName = "github.com/steveyegge/pulse/pipeline"
)

// HTTPInstruments are the counters recorded by the YouTrack client.
type HTTPInstruments struct {
	Requests    metric.Int64Counter
	Retries     metric.Int64Counter
	RateLimited metric.Int64Counter
	Duration    metric.Float64Histogram
}

// PipelineInstruments are recorded once per extraction run.
type PipelineInstruments struct {
	Runs            metric.Int64Counter
	Issues          metric.Int64Counter
	HistoryDegraded metric.Int64Counter
	RunDuration     metric.Float64Histogram
}

var (
	httpOnce     sync.Once
	httpInst     HTTPInstruments
	pipelineOnce sync.Once
	pipelineInst PipelineInstruments
)

// HTTPMetrics returns the lazily registered client instruments. Instruments
// created before Init delegate to the provider Init installs.
func HTTPMetrics() HTTPInstruments {
	httpOnce.Do(func() {
		m := Meter(httpScopeName)
		httpInst.Requests, _ = m.Int64Counter("pulse.http.requests",
			metric.WithDescription("YouTrack HTTP requests sent, by endpoint and status"),
		)
		httpInst.Retries, _ = m.Int64Counter("pulse.http.retries",
			metric.WithDescription("YouTrack requests retried after a failure"),
		)
		httpInst.RateLimited, _ = m.Int64Counter("pulse.http.rate_limited",
			metric.WithDescription("YouTrack responses with status 429"),
		)
		httpInst.Duration, _ = m.Float64Histogram("pulse.http.request.duration",
			metric.WithDescription("YouTrack request duration"),
			metric.WithUnit("s"),
		)
	})
	return httpInst
}

// PipelineMetrics returns the lazily registered pipeline instruments.
func PipelineMetrics() PipelineInstruments {
	pipelineOnce.Do(func() {
		m := Meter(pipelineScopeName)
		pipelineInst.Runs, _ = m.Int64Counter("pulse.runs",
			metric.WithDescription("Extraction runs, by outcome"),
		)
		pipelineInst.Issues, _ = m.Int64Counter("pulse.issues.extracted",
			metric.WithDescription("Issues fetched across runs"),
		)
		pipelineInst.HistoryDegraded, _ = m.Int64Counter("pulse.history.degraded",
			metric.WithDescription("Issues whose history fetch failed or was cut off"),
		)
		pipelineInst.RunDuration, _ = m.Float64Histogram("pulse.run.duration",
			metric.WithDescription("Wall time of an extraction run"),
			metric.WithUnit("s"),
		)
	})
	return pipelineInst
}
