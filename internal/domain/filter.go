package domain

import "math"

const (
	// zScoreLimit is the joint outlier gate: a sample survives only if
	// every selected component scores within this many standard
	// deviations of the batch mean.
	zScoreLimit = 2.5

	// varianceEpsilon guards the standard-score division. Components
	// with (near-)zero spread contribute neutral scores instead of
	// blowing up into rejections of the whole batch.
	varianceEpsilon = 1e-9
)

// FilterOutliers returns the subsequence of samples whose selected
// components all score within the outlier gate. Scores are computed
// per component over the whole batch, ignoring missing readings.
//
// A missing reading counts against a sample when its component shows
// real spread: with the instrument demonstrably active, a gap is
// indistinguishable from a dropout and the sample is rejected. When a
// component's spread is below varianceEpsilon it contributes no
// rejections at all, missing readings included.
func FilterOutliers(samples []Sample, components []Component) []Sample {
	if len(samples) == 0 {
		return samples
	}

	keep := make([]bool, len(samples))
	for i := range keep {
		keep[i] = true
	}

	for _, comp := range components {
		mean, sigma := componentStats(samples, comp)
		if sigma <= varianceEpsilon {
			continue
		}
		for i, s := range samples {
			v, ok := s.Values[comp]
			if !ok {
				keep[i] = false
				continue
			}
			if math.Abs(v-mean)/sigma > zScoreLimit {
				keep[i] = false
			}
		}
	}

	out := make([]Sample, 0, len(samples))
	for i, s := range samples {
		if keep[i] {
			out = append(out, s)
		}
	}
	return out
}

// componentStats computes the mean and population standard deviation
// of one component's present readings.
func componentStats(samples []Sample, comp Component) (mean, sigma float64) {
	n := 0
	for _, s := range samples {
		if v, ok := s.Values[comp]; ok {
			mean += v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean /= float64(n)

	var sumSq float64
	for _, s := range samples {
		if v, ok := s.Values[comp]; ok {
			d := v - mean
			sumSq += d * d
		}
	}
	return mean, math.Sqrt(sumSq / float64(n))
}
