package plot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
)

// Renderer writes a PNG chart of horizontal derivative activity and the
// derived K values for each report. It implements pipeline.ResultSink.
type Renderer struct {
	dir    string
	logger *slog.Logger
}

// NewRenderer creates a chart sink writing into the configured
// directory.
func NewRenderer(cfg *config.Config, logger *slog.Logger) (*Renderer, error) {
	if err := os.MkdirAll(cfg.PlotDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	return &Renderer{dir: cfg.PlotDir, logger: logger}, nil
}

// Name identifies the sink in logs and metrics.
func (r *Renderer) Name() string { return "plot" }

// Publish renders the report and atomically replaces the station's
// chart file. Reports too thin to chart are skipped without error;
// a cold pipeline is not a publish failure.
func (r *Renderer) Publish(_ context.Context, report domain.Report) error {
	if len(report.Samples) < 2 {
		r.logger.Debug("not enough samples to chart", "station", report.Station)
		return nil
	}

	var buf bytes.Buffer
	if err := render(report, &buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return r.writeAtomic(strings.ToLower(report.Station)+"_kindex.png", buf.Bytes())
}

func (r *Renderer) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(r.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(r.dir, name))
}

func render(report domain.Report, w io.Writer) error {
	graph := chart.Chart{
		Title: fmt.Sprintf("%s K index (updated %s UTC)",
			report.Name, report.GeneratedAt.UTC().Format("2006-01-02 15:04")),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: chart.YAxis{
			Name: "nT/min",
		},
		YAxisSecondary: chart.YAxis{
			Name:  "K",
			Range: &chart.ContinuousRange{Min: 0, Max: 9},
		},
		Series: buildSeries(report),
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

func buildSeries(report domain.Report) []chart.Series {
	derived := domain.ComputeDerivatives(report.Samples)

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "|dX/dt|",
			XValues: derived.Times,
			YValues: derived.DX,
			Style:   chart.Style{StrokeColor: drawing.ColorBlue},
		},
		chart.TimeSeries{
			Name:    "|dH/dt|",
			XValues: derived.Times,
			YValues: derived.DH,
			Style:   chart.Style{StrokeColor: drawing.ColorGreen},
		},
	}

	// A lone window cannot form a line; the derivative traces alone
	// still make a useful chart on a cold start.
	if len(report.Results) >= 2 {
		times := make([]time.Time, len(report.Results))
		values := make([]float64, len(report.Results))
		for i, result := range report.Results {
			times[i] = result.Center
			values[i] = result.K
		}
		series = append(series, chart.TimeSeries{
			Name:    "K",
			YAxis:   chart.YAxisSecondary,
			XValues: times,
			YValues: values,
			Style: chart.Style{
				StrokeColor: drawing.ColorRed,
				StrokeWidth: 3,
			},
		})
	}
	return series
}
