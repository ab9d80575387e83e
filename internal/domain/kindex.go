package domain

import (
	"sort"
	"time"
)

const (
	// windowSeconds is the length of one aggregation block. K indices
	// are defined over fixed 3-hour UTC intervals.
	windowSeconds = 10800

	// referenceK9 is the disturbance magnitude that saturates the scale
	// at the Niemegk reference station. Station tables are derived by
	// scaling the base thresholds by k9Limit/referenceK9.
	referenceK9 = 500.0

	// quietK is reported instead of a literal zero so consumers can
	// tell measured-quiet apart from absent data.
	quietK = 0.25
)

// baseThresholds is the Niemegk lower-bound table: index i holds the
// smallest disturbance, in nT, that still counts as K=i at a station
// whose K9 limit equals referenceK9.
var baseThresholds = [10]float64{0, 5, 10, 20, 40, 70, 120, 200, 330, 500}

// ThresholdTable is an immutable station-calibrated quantization table.
type ThresholdTable struct {
	k9Limit float64
	levels  [10]float64
}

// NewThresholdTable scales the base thresholds to a station's K9 limit.
// The limit must be positive; the levels then remain strictly ascending.
func NewThresholdTable(k9Limit float64) ThresholdTable {
	t := ThresholdTable{k9Limit: k9Limit}
	for i, base := range baseThresholds {
		t.levels[i] = base * k9Limit / referenceK9
	}
	return t
}

// K9Limit reports the calibration limit the table was built from.
func (t ThresholdTable) K9Limit() float64 { return t.k9Limit }

// Quantize maps a window's disturbance statistic to its K value: the
// greatest level whose threshold does not exceed the statistic, with
// quiet windows reported as quietK instead of zero.
func (t ThresholdTable) Quantize(stat float64) float64 {
	k := 0
	for i, level := range t.levels {
		if level > stat {
			break
		}
		k = i
	}
	if k == 0 {
		return quietK
	}
	return float64(k)
}

// AggregateWindows buckets samples into 3-hour blocks anchored to
// midnight UTC of the earliest sample's calendar day and computes one
// disturbance statistic per occupied block. The statistic is the larger
// of the two components' peak-to-peak ranges; blocks holding fewer than
// two samples report zero. Windows come back in ascending block order.
//
// Samples belonging to days before the anchor would land in negative
// blocks; that is well-defined and intentional, though it cannot occur
// when the caller sorts the batch first.
func AggregateWindows(samples []Sample, components [2]Component) []Window {
	if len(samples) == 0 {
		return nil
	}

	earliest := samples[0].Time
	for _, s := range samples[1:] {
		if s.Time.Before(earliest) {
			earliest = s.Time
		}
	}
	y, m, d := earliest.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	anchor := dayStart.Unix()

	type accum struct {
		count int
		seen  [2]bool
		min   [2]float64
		max   [2]float64
	}
	blocks := make(map[int64]*accum)

	for _, s := range samples {
		block := floorDiv(s.Time.Unix()-anchor, windowSeconds)
		acc := blocks[block]
		if acc == nil {
			acc = &accum{}
			blocks[block] = acc
		}
		acc.count++
		for i, comp := range components {
			v, ok := s.Values[comp]
			if !ok {
				continue
			}
			if !acc.seen[i] || v < acc.min[i] {
				acc.min[i] = v
			}
			if !acc.seen[i] || v > acc.max[i] {
				acc.max[i] = v
			}
			acc.seen[i] = true
		}
	}

	order := make([]int64, 0, len(blocks))
	for block := range blocks {
		order = append(order, block)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	windows := make([]Window, 0, len(order))
	for _, block := range order {
		acc := blocks[block]
		stat := 0.0
		if acc.count > 1 {
			for i := range components {
				if acc.seen[i] && acc.max[i]-acc.min[i] > stat {
					stat = acc.max[i] - acc.min[i]
				}
			}
		}
		windows = append(windows, Window{
			Block:  block,
			Center: time.Unix(anchor+block*windowSeconds+windowSeconds/2, 0).UTC(),
			Stat:   stat,
			Count:  acc.count,
		})
	}
	return windows
}

// DeriveKIndices quantizes every window against the station table.
func DeriveKIndices(windows []Window, table ThresholdTable) []KIndexResult {
	results := make([]KIndexResult, 0, len(windows))
	for _, w := range windows {
		results = append(results, KIndexResult{
			Center: w.Center,
			K:      table.Quantize(w.Stat),
			Range:  w.Stat,
		})
	}
	return results
}

// BuildReport runs the full derivation over one station's merged batch:
// sort chronologically, reject outliers, window, quantize. The samples
// retained on the report are the filtered, sorted series so read-only
// consumers can reuse them without re-filtering.
func BuildReport(station, name string, components [2]Component, samples []Sample, table ThresholdTable) Report {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	filtered := FilterOutliers(sorted, components[:])
	windows := AggregateWindows(filtered, components)

	return Report{
		Station:     station,
		Name:        name,
		Components:  components[:],
		Samples:     filtered,
		Results:     DeriveKIndices(windows, table),
		GeneratedAt: clock.Now().UTC(),
	}
}

// floorDiv divides rounding toward negative infinity, so pre-anchor
// timestamps map to negative blocks instead of sharing block zero.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
