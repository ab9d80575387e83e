// Command genobs writes synthetic IAGA-2002 minute files for local
// development and pipeline rehearsal without a connection to the GFZ
// archive. Every generated file is parsed back through the actual domain
// parser before the run is accepted, and the K indices the pipeline would
// derive from the full set are printed so test assertions can be updated
// against known input.
//
// Usage:
//
//	go run ./cmd/genobs \
//	  -out testdata/obs \
//	  -station ent \
//	  -days 3 \
//	  -storm 80
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skysweep/kindex-etl/internal/domain"
)

const (
	minutesPerDay = 24 * 60

	// sentinel marks a gap reading, the way archive files spell it.
	sentinel = 99999.0

	// dropoutRate is the per-minute probability of an instrument gap.
	dropoutRate = 0.002

	// glitchRate is the per-minute probability of a single-minute spike
	// large enough for the outlier gate to reject.
	glitchRate = 0.0005

	// The disturbance is injected over 12:00-15:00 UT of the last
	// generated day, so exactly one three-hour block feels it.
	stormStartMinute = 12 * 60
	stormEndMinute   = 15 * 60
)

// orientationDef describes one reportable component set and the quiet
// field it rides on. Baselines loosely follow a low-latitude observatory;
// declination is in minutes of arc like the real HDZ archive files.
type orientationDef struct {
	reported string
	columns  [3]string
	base     [3]float64
	daily    [3]float64
}

var orientationDefs = map[string]orientationDef{
	"xyz": {
		reported: "XYZF",
		columns:  [3]string{"X", "Y", "Z"},
		base:     [3]float64{20842, 1167, 10215},
		daily:    [3]float64{24, 9, 6},
	},
	"hdz": {
		reported: "HDZF",
		columns:  [3]string{"H", "D", "Z"},
		base:     [3]float64{20874, 192, 10215},
		daily:    [3]float64{24, 5, 6},
	},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the generated .min files")
	station := flag.String("station", "ent", "IAGA observatory code")
	name := flag.String("name", "Entoto", "observatory name for the metadata block")
	orientationName := flag.String("orientation", "xyz", "reported components: xyz or hdz")
	days := flag.Int("days", 3, "number of daily files to generate")
	start := flag.String("start", "2024-05-01", "UT date of the first file (YYYY-MM-DD)")
	k9 := flag.Float64("k9", 500, "lower K=9 bound for the printed derivation summary")
	storm := flag.Float64("storm", 80, "disturbance amplitude in nT on the last afternoon (0 for a quiet run)")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	def, ok := orientationDefs[strings.ToLower(*orientationName)]
	if !ok {
		return fmt.Errorf("unknown orientation %q: want xyz or hdz", *orientationName)
	}
	if *days < 1 {
		return fmt.Errorf("-days must be at least 1")
	}
	firstDay, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("parsing -start: %w", err)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	code := strings.ToLower(*station)
	gen := &generator{rng: rand.New(rand.NewSource(*seed)), def: def}

	samples := make([]domain.Sample, 0, *days*minutesPerDay)
	var components [2]domain.Component

	for i := 0; i < *days; i++ {
		day := firstDay.AddDate(0, 0, i)
		stormAmp := 0.0
		if i == *days-1 {
			stormAmp = *storm
		}
		rows := gen.day(day, stormAmp)

		content := renderFile(def, code, *name, rows)
		path := filepath.Join(*out, fmt.Sprintf("%s%spmin.min", code, day.Format("20060102")))
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return err
		}

		parsed, err := domain.ParseIAGA2002(content, code)
		if err != nil {
			return fmt.Errorf("generated file %s does not parse: %w", path, err)
		}
		components = parsed.Components
		samples = append(samples, parsed.Samples...)

		gaps := 0
		for _, r := range rows {
			if r.missing {
				gaps++
			}
		}
		log.Printf("%s: %d rows (%d gaps)", path, len(rows), gaps)
	}

	report := domain.BuildReport(strings.ToUpper(code), *name, components, samples,
		domain.NewThresholdTable(*k9))
	printDerivation(report, len(samples), *k9)
	return nil
}

// generator carries the random-walk drift across days so consecutive
// files join without a baseline step.
type generator struct {
	rng  *rand.Rand
	def  orientationDef
	walk [3]float64
}

type row struct {
	t       time.Time
	vals    [3]float64
	missing bool
}

// day synthesizes one UT day of minute readings: a solar-quiet daily wave
// riding a slow random walk, with an optional afternoon disturbance and a
// few single-minute instrument glitches. The disturbance lands mostly on
// the first horizontal component, which is where real storms show up.
func (g *generator) day(day time.Time, stormAmp float64) []row {
	rows := make([]row, 0, minutesPerDay)
	for m := 0; m < minutesPerDay; m++ {
		phase := 2 * math.Pi * float64(m) / minutesPerDay
		var vals [3]float64
		for c := range vals {
			g.walk[c] += g.rng.NormFloat64() * 0.2
			vals[c] = g.def.base[c] + g.def.daily[c]*math.Sin(phase) + g.walk[c]
		}
		if stormAmp > 0 && m >= stormStartMinute && m < stormEndMinute {
			progress := float64(m-stormStartMinute) / float64(stormEndMinute-stormStartMinute)
			bump := stormAmp * math.Sin(math.Pi*progress)
			vals[0] += bump + g.rng.NormFloat64()*stormAmp/20
			vals[1] -= bump/3 + g.rng.NormFloat64()*stormAmp/30
		}
		if g.rng.Float64() < glitchRate {
			sign := 1.0
			if g.rng.Float64() < 0.5 {
				sign = -1
			}
			vals[g.rng.Intn(2)] += sign * (200 + g.rng.Float64()*200)
		}
		rows = append(rows, row{
			t:       day.Add(time.Duration(m) * time.Minute),
			vals:    vals,
			missing: g.rng.Float64() < dropoutRate,
		})
	}
	return rows
}

// renderFile lays the rows out as an IAGA-2002 minute file: metadata
// block, prefixed column header, one row per minute. Gap minutes keep
// their timestamp and carry sentinel readings; the scalar F column is
// always sentinel, as it is for variometer stations without a scalar
// instrument.
func renderFile(def orientationDef, code, name string, rows []row) []byte {
	var b strings.Builder
	prefix := strings.ToUpper(code)

	meta := func(label, value string) {
		fmt.Fprintf(&b, " %-22s %-45s|\n", label, value)
	}
	meta("Format", "IAGA-2002")
	meta("Source of Data", "synthetic")
	meta("Station Name", name)
	meta("IAGA Code", prefix)
	meta("Geodetic Latitude", "9.110")
	meta("Geodetic Longitude", "38.766")
	meta("Elevation", "2440")
	meta("Reported", def.reported)
	meta("Data Interval Type", "1-minute")
	meta("Data Type", "variation")

	fmt.Fprintf(&b, "DATE       TIME         DOY     %s%s      %s%s      %s%s      %sF   |\n",
		prefix, def.columns[0], prefix, def.columns[1], prefix, def.columns[2], prefix)

	for _, r := range rows {
		v := r.vals
		if r.missing {
			v = [3]float64{sentinel, sentinel, sentinel}
		}
		fmt.Fprintf(&b, "%s %s %03d  %9.2f %9.2f %9.2f %9.2f\n",
			r.t.Format("2006-01-02"), r.t.Format("15:04:05.000"), r.t.YearDay(),
			v[0], v[1], v[2], sentinel)
	}
	return []byte(b.String())
}

func printDerivation(report domain.Report, parsed int, k9 float64) {
	fmt.Printf("\n=== Derivation summary for updating test assertions (k9=%g) ===\n", k9)
	fmt.Printf("Station: %s (%s), components %s/%s\n",
		report.Station, report.Name, report.Components[0], report.Components[1])
	fmt.Printf("Samples: %d parsed, %d after outlier filter\n", parsed, len(report.Samples))
	fmt.Printf("Windows: %d\n\n", len(report.Results))

	fmt.Printf("%-20s %6s %12s\n", "window center (UT)", "K", "range nT")
	for _, r := range report.Results {
		fmt.Printf("%-20s %6.2f %12.1f\n", r.Center.Format("2006-01-02 15:04"), r.K, r.Range)
	}
	if latest, ok := report.Latest(); ok {
		fmt.Printf("\nLatest: K=%.2f at %s\n", latest.K, latest.Center.Format(time.RFC3339))
	}
}
