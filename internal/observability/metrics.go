package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// K-index pipeline.
type Metrics struct {
	// KIndex is the headline output: the most recent K value per
	// station. It keeps its canonical name, unprefixed, because
	// dashboards and alerts reference it across projects.
	KIndex *prometheus.GaugeVec // labels: station
	// KRange is the disturbance statistic behind the latest K value.
	KRange *prometheus.GaugeVec // labels: station

	PipelineRunning *prometheus.GaugeVec // labels: station

	CyclesCompleted *prometheus.CounterVec // labels: station, outcome={ok,empty}
	FetchErrors     *prometheus.CounterVec // labels: station
	FormatErrors    *prometheus.CounterVec // labels: station
	SinkErrors      *prometheus.CounterVec // labels: station, sink={clickhouse,kafka,plot}

	SamplesParsed   *prometheus.CounterVec // labels: station
	SamplesRejected *prometheus.CounterVec // labels: station
	WindowsComputed *prometheus.CounterVec // labels: station

	CycleDuration *prometheus.HistogramVec // labels: station
	FilesPerCycle prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		KIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geomagnetic_k_index",
			Help: "Most recent K-index value derived for the station.",
		}, []string{"station"}),
		KRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geomagnetic_k_range_nt",
			Help: "Peak-to-peak disturbance behind the latest K value, in nanotesla.",
		}, []string{"station"}),
		PipelineRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kindex_etl",
			Name:      "pipeline_running",
			Help:      "1 while the station pipeline is active, 0 when shut down.",
		}, []string{"station"}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "cycles_completed_total",
			Help:      "Total derivation cycles completed, by outcome (ok or empty).",
		}, []string{"station", "outcome"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "fetch_errors_total",
			Help:      "Total failed file retrieval attempts.",
		}, []string{"station"}),
		FormatErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "format_errors_total",
			Help:      "Total files skipped as structurally unparsable.",
		}, []string{"station"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "sink_errors_total",
			Help:      "Total failed result publications by sink.",
		}, []string{"station", "sink"}),
		SamplesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "samples_parsed_total",
			Help:      "Total samples decoded from retrieved files.",
		}, []string{"station"}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "samples_rejected_total",
			Help:      "Total samples dropped by the outlier gate.",
		}, []string{"station"}),
		WindowsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kindex_etl",
			Name:      "windows_computed_total",
			Help:      "Total three-hour windows derived.",
		}, []string{"station"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kindex_etl",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-parse-derive-publish cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"station"}),
		FilesPerCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kindex_etl",
			Name:      "files_per_cycle",
			Help:      "Number of observatory files retrieved per cycle.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 7, 10},
		}),
	}

	prometheus.MustRegister(
		m.KIndex,
		m.KRange,
		m.PipelineRunning,
		m.CyclesCompleted,
		m.FetchErrors,
		m.FormatErrors,
		m.SinkErrors,
		m.SamplesParsed,
		m.SamplesRejected,
		m.WindowsComputed,
		m.CycleDuration,
		m.FilesPerCycle,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		KIndex:          prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "geomagnetic_k_index"}, []string{"station"}),
		KRange:          prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "geomagnetic_k_range_nt"}, []string{"station"}),
		PipelineRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "kindex_etl", Name: "pipeline_running"}, []string{"station"}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "cycles_completed_total"}, []string{"station", "outcome"}),
		FetchErrors:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "fetch_errors_total"}, []string{"station"}),
		FormatErrors:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "format_errors_total"}, []string{"station"}),
		SinkErrors:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "sink_errors_total"}, []string{"station", "sink"}),
		SamplesParsed:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "samples_parsed_total"}, []string{"station"}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "samples_rejected_total"}, []string{"station"}),
		WindowsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "kindex_etl", Name: "windows_computed_total"}, []string{"station"}),
		CycleDuration:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "kindex_etl", Name: "cycle_duration_seconds"}, []string{"station"}),
		FilesPerCycle:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "kindex_etl", Name: "files_per_cycle"}),
	}
}
