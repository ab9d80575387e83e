package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDerivatives(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("constant slope cartesian series", func(t *testing.T) {
		samples := make([]Sample, 0, 6)
		for i := 0; i < 6; i++ {
			samples = append(samples, xySample(base.Add(time.Duration(i)*time.Minute), 100+2*float64(i), 0))
		}

		series := ComputeDerivatives(samples)

		require.Len(t, series.Times, 6)
		assert.InDeltaSlice(t, []float64{0, 2, 2, 2, 2, 2}, series.DX, 1e-9)
		// Y is zero throughout, so H equals X and moves identically.
		assert.InDeltaSlice(t, []float64{0, 2, 2, 2, 2, 2}, series.DH, 1e-9)
	})

	t.Run("hdz series", func(t *testing.T) {
		samples := make([]Sample, 0, 8)
		for i := 0; i < 8; i++ {
			samples = append(samples, Sample{
				Time:   base.Add(time.Duration(i) * time.Minute),
				Values: map[Component]float64{ComponentH: 100 + 3*float64(i), ComponentD: 0},
			})
		}

		series := ComputeDerivatives(samples)

		// Zero declination makes the reconstructed X equal to H.
		assert.InDeltaSlice(t, []float64{0, 3, 3, 3, 3, 3, 3, 3}, series.DX, 1e-9)
		assert.InDeltaSlice(t, []float64{0, 3, 3, 3, 3, 3, 3, 3}, series.DH, 1e-9)
	})

	t.Run("single sample spike suppressed", func(t *testing.T) {
		values := []float64{5, 5, 5, 105, 5, 5, 5}
		samples := make([]Sample, 0, len(values))
		for i, v := range values {
			samples = append(samples, xySample(base.Add(time.Duration(i)*time.Minute), v, 0))
		}

		series := ComputeDerivatives(samples)

		assert.InDeltaSlice(t, []float64{0, 0, 0, 0, 0, 0, 0}, series.DX, 1e-9)
	})

	t.Run("missing endpoint yields zero delta", func(t *testing.T) {
		samples := []Sample{
			xySample(base, 100, 0),
			{Time: base.Add(time.Minute), Values: map[Component]float64{ComponentY: 0}},
			xySample(base.Add(2*time.Minute), 300, 0),
		}

		series := ComputeDerivatives(samples)

		assert.InDeltaSlice(t, []float64{0, 0, 0}, series.DX, 1e-9)
	})

	t.Run("sorts before differencing", func(t *testing.T) {
		samples := []Sample{
			xySample(base.Add(time.Minute), 102, 0),
			xySample(base, 100, 0),
		}

		series := ComputeDerivatives(samples)

		require.Len(t, series.Times, 2)
		assert.Equal(t, base, series.Times[0])
		assert.Equal(t, base.Add(time.Minute), series.Times[1])
	})

	t.Run("empty input", func(t *testing.T) {
		series := ComputeDerivatives(nil)

		assert.Empty(t, series.Times)
		assert.Empty(t, series.DX)
		assert.Empty(t, series.DH)
	})
}

func TestHorizontalPair(t *testing.T) {
	t.Run("cartesian sample synthesizes intensity", func(t *testing.T) {
		s := Sample{Values: map[Component]float64{ComponentX: 3, ComponentY: 4}}

		x, h := horizontalPair(s)

		assert.Equal(t, 3.0, x)
		assert.Equal(t, 5.0, h)
	})

	t.Run("declination rotates intensity onto x", func(t *testing.T) {
		s := Sample{Values: map[Component]float64{ComponentH: 100, ComponentD: 5400}}

		x, h := horizontalPair(s)

		// 5400 arcminutes is 90 degrees, projecting X to zero.
		assert.InDelta(t, 0, x, 1e-9)
		assert.Equal(t, 100.0, h)
	})

	t.Run("zero declination keeps intensity", func(t *testing.T) {
		s := Sample{Values: map[Component]float64{ComponentH: 100, ComponentD: 0}}

		x, h := horizontalPair(s)

		assert.InDelta(t, 100, x, 1e-12)
		assert.Equal(t, 100.0, h)
	})

	t.Run("lone x passes through", func(t *testing.T) {
		s := Sample{Values: map[Component]float64{ComponentX: 3}}

		x, h := horizontalPair(s)

		assert.Equal(t, 3.0, x)
		assert.True(t, math.IsNaN(h))
	})

	t.Run("empty sample", func(t *testing.T) {
		x, h := horizontalPair(Sample{})

		assert.True(t, math.IsNaN(x))
		assert.True(t, math.IsNaN(h))
	})
}

func TestMedianFilter5(t *testing.T) {
	tests := []struct {
		name     string
		in       []float64
		expected []float64
	}{
		{"flat", []float64{1, 1, 1, 1, 1}, []float64{1, 1, 1, 1, 1}},
		{"spike removed", []float64{0, 0, 10, 0, 0}, []float64{0, 0, 0, 0, 0}},
		{"step preserved", []float64{0, 0, 4, 4, 4}, []float64{0, 0, 4, 4, 4}},
		{"single value", []float64{7}, []float64{0}},
		{"empty", nil, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, medianFilter5(tt.in))
		})
	}
}
