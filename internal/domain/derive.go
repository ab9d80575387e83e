package domain

import (
	"math"
	"sort"
	"time"
)

// DerivedSeries holds per-step rate-of-change series for the horizontal
// field, computed from a report's retained samples. It is a read-only
// consumer of the derivation output, used for plotting; nothing in the
// K computation depends on it.
type DerivedSeries struct {
	Times []time.Time
	// DX and DH are the absolute per-step changes of the Cartesian X
	// component and the horizontal intensity H, median-smoothed over a
	// five-sample kernel. Steps with a missing endpoint report zero.
	DX []float64
	DH []float64
}

// ComputeDerivatives sorts the samples chronologically and derives the
// smoothed |dX| and |dH| series. HDZ files have X reconstructed from
// H and D; XYZ files have H reconstructed from X and Y.
func ComputeDerivatives(samples []Sample) DerivedSeries {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	times := make([]time.Time, len(sorted))
	xs := make([]float64, len(sorted))
	hs := make([]float64, len(sorted))
	for i, s := range sorted {
		times[i] = s.Time
		xs[i], hs[i] = horizontalPair(s)
	}
	return DerivedSeries{Times: times, DX: smoothedRate(xs), DH: smoothedRate(hs)}
}

// horizontalPair reconstructs the Cartesian X and the horizontal
// intensity H for one sample, whichever orientation it was reported in.
// Unrecoverable values come back NaN.
func horizontalPair(s Sample) (x, h float64) {
	x, h = math.NaN(), math.NaN()
	xv, xok := s.Values[ComponentX]
	yv, yok := s.Values[ComponentY]
	hv, hok := s.Values[ComponentH]
	dv, dok := s.Values[ComponentD]

	if hok {
		h = hv
	} else if xok && yok {
		h = math.Hypot(xv, yv)
	}

	if dok {
		// D is reported in arcminutes east of north.
		x = h * math.Cos(dv/60*math.Pi/180)
	} else if xok {
		x = xv
	}
	return x, h
}

// smoothedRate turns a value series into absolute per-step deltas and
// smooths single-sample spikes with a median filter. Deltas with a NaN
// endpoint become zero, as does the first entry.
func smoothedRate(values []float64) []float64 {
	rate := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		d := math.Abs(values[i] - values[i-1])
		if !math.IsNaN(d) {
			rate[i] = d
		}
	}
	return medianFilter5(rate)
}

// medianFilter5 applies a kernel-5 running median, padding both ends
// with zeros so the output length matches the input.
func medianFilter5(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		var window [5]float64
		for j := range window {
			if idx := i + j - 2; idx >= 0 && idx < len(values) {
				window[j] = values[idx]
			}
		}
		sort.Float64s(window[:])
		out[i] = window[2]
	}
	return out
}
