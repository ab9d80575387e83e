package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
	"github.com/skysweep/kindex-etl/internal/observability"
	"github.com/skysweep/kindex-etl/internal/pipeline"
)

// --- fixtures ---

// Two consecutive minute files from the same cartesian station. Merged
// they ramp X by 50 nT inside a single three-hour block, which lands in
// the K=4 band of the default 500 nT scale.
const cartesianDay1 = `Format                 IAGA-2002                                    |
 Source of Data         GFZ German Research Centre for Geosciences   |
 Station Name           Entoto                                       |
 IAGA Code              ENT                                          |
 Reported               XYZF                                         |
DATE       TIME         DOY     ENTX      ENTY      ENTZ      ENTF   |
2024-05-01 00:00:00.000 122     20000.00   1000.00  10000.00  99999.0
2024-05-01 00:01:00.000 122     20010.00   1001.00  10000.00  99999.0
2024-05-01 00:02:00.000 122     20020.00   1002.00  10000.00  99999.0
`

const cartesianDay2 = `Format                 IAGA-2002                                    |
 Station Name           Entoto                                       |
 Reported               XYZF                                         |
DATE       TIME         DOY     ENTX      ENTY      ENTZ      ENTF   |
2024-05-01 00:03:00.000 122     20030.00   1003.00  10000.00  99999.0
2024-05-01 00:04:00.000 122     20040.00   1004.00  10000.00  99999.0
2024-05-01 00:05:00.000 122     20050.00   1005.00  10000.00  99999.0
`

// Same station publishing an HDZ orientation. Mixing this with the
// cartesian files must not silently blend incompatible components.
const hdzDay = `Format                 IAGA-2002                                    |
 Station Name           Entoto                                       |
 Reported               HDZF                                         |
DATE       TIME         DOY     ENTH      ENTD      ENTZ      ENTF   |
2024-05-01 00:03:00.000 122     20030.00   1003.00  10000.00  99999.0
`

// --- stubs ---

type stubSource struct {
	files    []domain.RawFile
	failures int // leading calls that return an error
	calls    atomic.Int64
	notify   chan struct{}
}

func (s *stubSource) FetchRecent(_ context.Context, _ config.Station) ([]domain.RawFile, error) {
	n := s.calls.Add(1)
	if s.notify != nil {
		s.notify <- struct{}{}
	}
	if int(n) <= s.failures {
		return nil, errors.New("ftp unreachable")
	}
	return s.files, nil
}

type stubSink struct {
	name    string
	err     error
	reports []domain.Report
}

func (s *stubSink) Publish(_ context.Context, report domain.Report) error {
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, report)
	return nil
}

func (s *stubSink) Name() string { return s.name }

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- tests ---

func TestPipeline_Process_MergesFiles(t *testing.T) {
	p := pipeline.New(testStation("ent"), &stubSource{}, nil, slog.Default(), newTestMetrics())

	report := p.Process(rawFiles(cartesianDay1, cartesianDay2))

	assert.Equal(t, "ENT", report.Station)
	assert.Equal(t, "Entoto", report.Name)
	assert.Equal(t, []domain.Component{domain.ComponentX, domain.ComponentY}, report.Components)
	assert.Len(t, report.Samples, 6)

	want := []domain.KIndexResult{
		{Center: time.Date(2024, time.May, 1, 1, 30, 0, 0, time.UTC), K: 4, Range: 50},
	}
	if diff := cmp.Diff(want, report.Results); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Process_SkipsUnparsableFile(t *testing.T) {
	p := pipeline.New(testStation("ent"), &stubSource{}, nil, slog.Default(), newTestMetrics())

	report := p.Process(rawFiles(cartesianDay1, "not an observatory file\n", cartesianDay2))

	assert.Len(t, report.Samples, 6)
	require.Len(t, report.Results, 1)
	assert.InDelta(t, 4.0, report.Results[0].K, 1e-9)
}

func TestPipeline_Process_SkipsConflictingOrientation(t *testing.T) {
	p := pipeline.New(testStation("ent"), &stubSource{}, nil, slog.Default(), newTestMetrics())

	report := p.Process(rawFiles(cartesianDay1, hdzDay))

	// The first file fixes the XYZ orientation; the HDZ file is dropped.
	assert.Equal(t, []domain.Component{domain.ComponentX, domain.ComponentY}, report.Components)
	assert.Len(t, report.Samples, 3)
	require.Len(t, report.Results, 1)
	assert.InDelta(t, 3.0, report.Results[0].K, 1e-9)
	assert.InDelta(t, 20.0, report.Results[0].Range, 1e-9)
}

func TestPipeline_RunOnce_HappyPath(t *testing.T) {
	src := &stubSource{files: rawFiles(cartesianDay1, cartesianDay2)}
	first := &stubSink{name: "clickhouse"}
	second := &stubSink{name: "kafka"}
	p := pipeline.New(testStation("ent"), src, []pipeline.ResultSink{first, second}, slog.Default(), newTestMetrics())

	assert.ErrorContains(t, p.CheckReadiness(context.Background()), "ent")

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.InDelta(t, 4.0, report.Results[0].K, 1e-9)

	require.Len(t, first.reports, 1)
	require.Len(t, second.reports, 1)
	assert.Equal(t, report, first.reports[0])
	assert.Equal(t, report, second.reports[0])
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_EmptyCycle(t *testing.T) {
	sink := &stubSink{name: "memory"}
	p := pipeline.New(testStation("ent"), &stubSource{}, []pipeline.ResultSink{sink}, slog.Default(), newTestMetrics())

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Samples)
	assert.Empty(t, report.Results)

	_, ok := report.Latest()
	assert.False(t, ok)

	// An empty cycle still publishes and still counts toward readiness.
	assert.Len(t, sink.reports, 1)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_SinkFailureDoesNotAbort(t *testing.T) {
	src := &stubSource{files: rawFiles(cartesianDay1, cartesianDay2)}
	failing := &stubSink{name: "clickhouse", err: errors.New("connection refused")}
	healthy := &stubSink{name: "kafka"}
	p := pipeline.New(testStation("ent"), src, []pipeline.ResultSink{failing, healthy}, slog.Default(), newTestMetrics())

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failing.reports)
	require.Len(t, healthy.reports, 1)
	assert.Equal(t, report, healthy.reports[0])
}

func TestPipeline_RunOnce_FetchRetriesTransientFailure(t *testing.T) {
	src := &stubSource{failures: 2, files: rawFiles(cartesianDay1)}
	sink := &stubSink{name: "memory"}
	p := pipeline.New(testStation("ent"), src, []pipeline.ResultSink{sink}, slog.Default(), newTestMetrics())

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.calls.Load())
	assert.Len(t, sink.reports, 1)
}

func TestPipeline_RunOnce_FetchGivesUpAfterRetries(t *testing.T) {
	src := &stubSource{failures: 99}
	sink := &stubSink{name: "memory"}
	p := pipeline.New(testStation("ent"), src, []pipeline.ResultSink{sink}, slog.Default(), newTestMetrics())

	_, err := p.RunOnce(context.Background())
	require.ErrorContains(t, err, "after 5 attempts")
	assert.EqualValues(t, 5, src.calls.Load())
	assert.Empty(t, sink.reports)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TickerDrivesCycles(t *testing.T) {
	station := testStation("ent")
	src := &stubSource{files: rawFiles(cartesianDay1), notify: make(chan struct{}, 8)}
	sink := &stubSink{name: "memory"}
	p := pipeline.New(station, src, []pipeline.ResultSink{sink}, slog.Default(), newTestMetrics())

	fake := clockwork.NewFakeClockAt(time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC))
	p.SetClock(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitForFetch(t, src.notify) // first cycle runs immediately

	require.NoError(t, fake.BlockUntilContext(ctx, 1))
	fake.Advance(station.PollInterval())
	waitForFetch(t, src.notify) // second cycle driven by the ticker

	cancel()
	require.NoError(t, <-done)

	assert.EqualValues(t, 2, src.calls.Load())
	assert.Len(t, sink.reports, 2)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestGroup_CheckReadiness(t *testing.T) {
	empty := pipeline.NewGroup()
	assert.ErrorContains(t, empty.CheckReadiness(context.Background()), "no station pipelines")

	a := pipeline.New(testStation("ent"), &stubSource{}, nil, slog.Default(), newTestMetrics())
	b := pipeline.New(testStation("aae"), &stubSource{}, nil, slog.Default(), newTestMetrics())
	group := pipeline.NewGroup(a, b)

	assert.ErrorContains(t, group.CheckReadiness(context.Background()), "ent")

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ErrorContains(t, group.CheckReadiness(context.Background()), "aae")

	_, err = b.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NoError(t, group.CheckReadiness(context.Background()))
}

func TestGroup_Run_StopsOnCancel(t *testing.T) {
	a := pipeline.New(testStation("ent"), &stubSource{files: rawFiles(cartesianDay1)}, nil, slog.Default(), newTestMetrics())
	b := pipeline.New(testStation("aae"), &stubSource{}, nil, slog.Default(), newTestMetrics())
	group := pipeline.NewGroup(a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- group.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return group.CheckReadiness(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop after cancellation")
	}
}

// --- helpers ---

func testStation(code string) config.Station {
	return config.Station{
		Code:                code,
		K9Limit:             500,
		LookbackDays:        3,
		PollIntervalMinutes: 10,
	}
}

func rawFiles(contents ...string) []domain.RawFile {
	files := make([]domain.RawFile, 0, len(contents))
	for i, content := range contents {
		files = append(files, domain.RawFile{
			Name:    fmt.Sprintf("ent202405%02dpmin.min", i+1),
			Content: []byte(content),
		})
	}
	return files
}

func waitForFetch(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch")
	}
}
