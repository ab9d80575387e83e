package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
	"github.com/skysweep/kindex-etl/internal/observability"
)

// FileSource supplies the raw observatory files covering a station's
// lookback window for one cycle. An empty result means "no data this
// cycle", which is not an error.
type FileSource interface {
	FetchRecent(ctx context.Context, station config.Station) ([]domain.RawFile, error)
}

// ResultSink receives the full report computed in one cycle. Sinks are
// best-effort: a publish failure is logged and counted, never allowed
// to abort the cycle or the pipeline.
type ResultSink interface {
	Publish(ctx context.Context, report domain.Report) error
	Name() string
}

// Exponential backoff for fetch retries: start at 200ms, double each
// retry, cap at 5s. Keeps retry storms short while avoiding tight
// loops during FTP outages.
const (
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 5 * time.Second
	maxFetchAttempts = 5
)

// Pipeline drives the fetch-parse-derive-publish cycle for one station.
// Each station gets its own Pipeline; nothing is shared between them,
// and a single Pipeline never overlaps its own cycles.
type Pipeline struct {
	station config.Station
	source  FileSource
	sinks   []ResultSink
	table   domain.ThresholdTable
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
}

// New creates a Pipeline for one station with the given collaborators.
func New(station config.Station, source FileSource, sinks []ResultSink, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		station: station,
		source:  source,
		sinks:   sinks,
		table:   domain.NewThresholdTable(station.K9Limit),
		logger:  logger.With("station", station.Code),
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock swaps the scheduling clock. Tests use a fake to step the
// poll ticker without waiting wall-clock minutes.
func (p *Pipeline) SetClock(c clockwork.Clock) {
	p.clock = c
}

// CheckReadiness returns nil once the pipeline has completed at least
// one cycle, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return fmt.Errorf("station %s has not completed a cycle yet", p.station.Code)
	}
	return nil
}

// Run executes cycles on the station's poll interval until the context
// is cancelled. The first cycle starts immediately.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"poll_interval", p.station.PollInterval(),
		"k9_limit", p.station.K9Limit,
		"lookback_days", p.station.LookbackDays,
	)
	p.metrics.PipelineRunning.WithLabelValues(p.station.Code).Set(1)
	defer p.metrics.PipelineRunning.WithLabelValues(p.station.Code).Set(0)

	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("cycle abandoned", "error", err)
	}

	ticker := p.clock.NewTicker(p.station.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("cycle abandoned", "error", err)
			}
		}
	}
}

// RunOnce executes a single cycle and returns the derived report. An
// error means file retrieval failed even after retries; everything
// past retrieval degrades to an empty report instead of failing.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.Report, error) {
	start := time.Now()

	files, err := p.fetchWithRetry(ctx)
	if err != nil {
		return domain.Report{}, err
	}

	p.metrics.FilesPerCycle.Observe(float64(len(files)))
	if len(files) == 0 {
		p.logger.Warn("no files retrieved this cycle")
	}

	report := p.Process(files)
	p.publish(ctx, report)

	outcome := "ok"
	if len(report.Results) == 0 {
		outcome = "empty"
	}
	p.metrics.CyclesCompleted.WithLabelValues(p.station.Code, outcome).Inc()
	p.metrics.WindowsComputed.WithLabelValues(p.station.Code).Add(float64(len(report.Results)))
	p.metrics.CycleDuration.WithLabelValues(p.station.Code).Observe(time.Since(start).Seconds())
	p.ready.Store(true)

	if latest, ok := report.Latest(); ok {
		p.logger.Info("cycle complete",
			"files", len(files),
			"samples", len(report.Samples),
			"windows", len(report.Results),
			"k", latest.K,
		)
	} else {
		p.logger.Info("cycle complete, no results", "files", len(files))
	}
	return report, nil
}

// Process parses the retrieved files, merges their samples, and derives
// the station report. Files that fail to parse are skipped; files whose
// resolved component triplet conflicts with the first accepted file are
// skipped the same way rather than silently mixed in.
func (p *Pipeline) Process(files []domain.RawFile) domain.Report {
	var (
		samples    []domain.Sample
		components [2]domain.Component
		name       = strings.ToUpper(p.station.Code)
		reported   string
		resolved   bool
	)

	for _, f := range files {
		parsed, err := domain.ParseIAGA2002(f.Content, p.station.Code)
		if err != nil {
			p.metrics.FormatErrors.WithLabelValues(p.station.Code).Inc()
			p.logger.Warn("skipping unparsable file", "file", f.Name, "error", err)
			continue
		}
		if !resolved {
			components = parsed.Components
			reported = parsed.Reported
			name = parsed.Name
			resolved = true
		} else if parsed.Reported != reported {
			p.metrics.FormatErrors.WithLabelValues(p.station.Code).Inc()
			p.logger.Warn("skipping file with conflicting components",
				"file", f.Name, "want", reported, "got", parsed.Reported)
			continue
		}
		samples = append(samples, parsed.Samples...)
	}

	p.metrics.SamplesParsed.WithLabelValues(p.station.Code).Add(float64(len(samples)))
	report := domain.BuildReport(strings.ToUpper(p.station.Code), name, components, samples, p.table)
	p.metrics.SamplesRejected.WithLabelValues(p.station.Code).Add(float64(len(samples) - len(report.Samples)))
	return report
}

// publish updates the output gauges and hands the report to every sink.
func (p *Pipeline) publish(ctx context.Context, report domain.Report) {
	if latest, ok := report.Latest(); ok {
		p.metrics.KIndex.WithLabelValues(report.Station).Set(latest.K)
		p.metrics.KRange.WithLabelValues(report.Station).Set(latest.Range)
	}

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, report); err != nil {
			p.metrics.SinkErrors.WithLabelValues(p.station.Code, sink.Name()).Inc()
			p.logger.Error("sink publish failed", "sink", sink.Name(), "error", err)
		}
	}
}

// fetchWithRetry asks the source for the cycle's files, backing off
// between attempts. After maxFetchAttempts failures the cycle is given
// up; the next tick starts fresh.
func (p *Pipeline) fetchWithRetry(ctx context.Context) ([]domain.RawFile, error) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		files, err := p.source.FetchRecent(ctx, p.station)
		if err == nil {
			return files, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		p.metrics.FetchErrors.WithLabelValues(p.station.Code).Inc()
		p.logger.Error("fetch failed", "attempt", attempt, "error", err)

		if attempt >= maxFetchAttempts {
			return nil, fmt.Errorf("fetch failed after %d attempts: %w", attempt, err)
		}
		if !sleepWithContext(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// Group supervises one pipeline per configured station.
type Group struct {
	pipelines []*Pipeline
}

// NewGroup wraps the given pipelines into a single runnable unit.
func NewGroup(pipelines ...*Pipeline) *Group {
	return &Group{pipelines: pipelines}
}

// Run starts every pipeline and blocks until all of them have stopped.
func (g *Group) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, p := range g.pipelines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				p.logger.Error("pipeline exited", "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// CheckReadiness reports ready only when every station pipeline has
// completed a cycle.
func (g *Group) CheckReadiness(ctx context.Context) error {
	if len(g.pipelines) == 0 {
		return errors.New("no station pipelines configured")
	}
	for _, p := range g.pipelines {
		if err := p.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func nextBackoff(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if next > maxDelay {
		return maxDelay
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
