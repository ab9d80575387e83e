package domain

import "time"

// Component identifies a geomagnetic field component column in an
// IAGA-2002 file. Observatories report either an XYZ or an HDZ
// orientation; both reduce to the same K derivation once parsed.
type Component string

const (
	ComponentX Component = "X"
	ComponentY Component = "Y"
	ComponentZ Component = "Z"
	ComponentH Component = "H"
	ComponentD Component = "D"
)

// Sample is a single timestamped magnetometer reading. Values holds
// only the components that were actually present in the source row;
// a missing or sentinel-valued column simply has no key.
type Sample struct {
	Time   time.Time
	Values map[Component]float64
}

// Value returns the reading for a component and whether it was present.
func (s Sample) Value(c Component) (float64, bool) {
	v, ok := s.Values[c]
	return v, ok
}

// RawFile is one retrieved observatory file, as handed to the pipeline
// by the retrieval collaborator.
type RawFile struct {
	Name    string
	Content []byte
}

// ParsedFile is the outcome of parsing one IAGA-2002 file.
type ParsedFile struct {
	// Station is the uppercase IAGA observatory code, e.g. "ENT".
	Station string
	// Name is the human-readable observatory name from the file
	// headers, falling back to the station code when absent.
	Name string
	// Reported is the resolved orientation, "XYZ" or "HDZ".
	Reported string
	// Components holds the two horizontal-field components that drive
	// the disturbance statistic: X,Y for Cartesian files, H,D for HDZ.
	Components [2]Component
	// Samples preserves file order. Rows with unparsable timestamps
	// are dropped; rows with missing readings are kept.
	Samples []Sample
}

// Window is one three-hour aggregation bucket. Blocks are indexed
// relative to midnight UTC of the earliest sample's calendar day, so
// a batch spanning several days yields strictly increasing blocks.
type Window struct {
	Block  int64
	Center time.Time
	// Stat is the largest peak-to-peak excursion across the selected
	// components, or zero when the window holds fewer than two samples.
	Stat  float64
	Count int
}

// KIndexResult is the quantized disturbance level for one window.
type KIndexResult struct {
	Center time.Time
	// K is the index value. Quiet windows report 0.25 rather than 0
	// so downstream consumers can distinguish "measured quiet" from
	// "no data" zero values.
	K float64
	// Range is the window statistic the index was derived from, in nT.
	Range float64
}

// Report is the full outcome of one derivation cycle for a station.
type Report struct {
	Station     string
	Name        string
	Components  []Component
	Samples     []Sample
	Results     []KIndexResult
	GeneratedAt time.Time
}

// Latest returns the most recent K-index result, if any.
func (r Report) Latest() (KIndexResult, bool) {
	if len(r.Results) == 0 {
		return KIndexResult{}, false
	}
	return r.Results[len(r.Results)-1], true
}
