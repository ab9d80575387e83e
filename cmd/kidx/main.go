// Command kidx derives geomagnetic K indices from IAGA-2002 minute files on
// local disk, without the daemon or any of its sinks. It runs the same
// derivation the pipeline runs, prints the three-hour window table, and can
// optionally export the results as a Parquet file for ad-hoc analysis.
//
// Usage:
//
//	go run ./cmd/kidx \
//	  -dir testdata/obs \
//	  -station ent \
//	  -k9 500 \
//	  -parquet-out results.parquet
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/skysweep/kindex-etl/internal/domain"
)

func main() {
	dir := flag.String("dir", "", "directory containing IAGA-2002 .min files")
	station := flag.String("station", "ent", "IAGA observatory code the files belong to")
	k9 := flag.Float64("k9", 500, "lower bound of the K=9 range in nT")
	parquetOut := flag.String("parquet-out", "", "optional output path for a Parquet export of the results")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dir, *station, *k9, *parquetOut); code != 0 {
		os.Exit(code)
	}
}

func run(dir, station string, k9 float64, parquetOut string) int {
	// ── Load and parse the archive files ──
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read directory: %v\n", err)
		return 1
	}

	var (
		samples    []domain.Sample
		components [2]domain.Component
		reported   string
		name       string
		parsed     int
		skipped    int
	)
	// ReadDir sorts by filename, which is chronological for the
	// <code><yyyymmdd>pmin.min naming the archive uses. The merge follows
	// the pipeline's batch rule: the first parseable file decides the
	// component orientation and later files must agree.
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".min") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read %s: %v\n", e.Name(), err)
			return 1
		}
		pf, err := domain.ParseIAGA2002(content, station)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", e.Name(), err)
			skipped++
			continue
		}
		if reported == "" {
			reported = pf.Reported
			components = pf.Components
			name = pf.Name
		} else if pf.Reported != reported {
			fmt.Fprintf(os.Stderr, "skipping %s: reports %s, batch established %s\n",
				e.Name(), pf.Reported, reported)
			skipped++
			continue
		}
		samples = append(samples, pf.Samples...)
		parsed++
	}
	if parsed == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no parseable .min files in %s\n", dir)
		return 1
	}

	// ── Derive ──
	report := domain.BuildReport(strings.ToUpper(station), name, components, samples,
		domain.NewThresholdTable(k9))

	// ── Print the window table ──
	fmt.Printf("=== K indices for %s (%s) ===\n", report.Station, report.Name)
	fmt.Printf("Files: %d parsed, %d skipped; samples: %d kept of %d; k9=%g\n\n",
		parsed, skipped, len(report.Samples), len(samples), k9)

	fmt.Printf("  %-18s %-6s %10s\n", "window center (UT)", "K", "range nT")
	for _, r := range report.Results {
		fmt.Printf("  %-18s %s %10.1f\n",
			r.Center.Format("2006-01-02 15:04"), colorK(r.K), r.Range)
	}
	if len(report.Results) == 0 {
		fmt.Println("  (no windows: the files carried no samples)")
	}
	if latest, ok := report.Latest(); ok {
		fmt.Printf("\nLatest: K=%.2f (%s)\n", latest.K, conditionLabel(latest.K))
	}

	// ── Optional Parquet export ──
	if parquetOut != "" {
		if err := writeParquet(parquetOut, report); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: parquet export: %v\n", err)
			return 1
		}
		fmt.Printf("\nWrote %d rows to %s\n", len(report.Results), parquetOut)
	}
	return 0
}

// resultRow is the Parquet schema for one derived window. Timestamps are
// epoch seconds to keep the columns plain integers for downstream tools.
type resultRow struct {
	Station      string  `parquet:"station"`
	Name         string  `parquet:"name"`
	WindowCenter int64   `parquet:"window_center"`
	K            float64 `parquet:"k"`
	RangeNT      float64 `parquet:"range_nt"`
	GeneratedAt  int64   `parquet:"generated_at"`
}

func writeParquet(path string, report domain.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[resultRow](f)

	rows := make([]resultRow, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, resultRow{
			Station:      report.Station,
			Name:         report.Name,
			WindowCenter: r.Center.Unix(),
			K:            r.K,
			RangeNT:      r.Range,
			GeneratedAt:  report.GeneratedAt.Unix(),
		})
	}
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ── Output helpers ──

// colorK renders the K value in the conventional severity colors: quiet
// conditions green, minor to moderate storms yellow, strong storms red.
func colorK(k float64) string {
	s := fmt.Sprintf("%-6.2f", k)
	switch {
	case k < 5:
		return "\033[32m" + s + "\033[0m"
	case k < 7:
		return "\033[33m" + s + "\033[0m"
	default:
		return "\033[31m" + s + "\033[0m"
	}
}

func conditionLabel(k float64) string {
	switch {
	case k < 4:
		return "quiet"
	case k < 5:
		return "active"
	case k < 6:
		return "minor storm"
	case k < 7:
		return "moderate storm"
	case k < 8:
		return "strong storm"
	case k < 9:
		return "severe storm"
	default:
		return "extreme storm"
	}
}
