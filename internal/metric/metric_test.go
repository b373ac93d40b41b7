package metric

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

func TestPercentageError(t *testing.T) {
	tests := []struct {
		name      string
		actual    []float64
		predicted []float64
		want      []float64
		zeroIdx   []int
	}{
		{
			name:      "identical",
			actual:    []float64{1, 2, 3},
			predicted: []float64{1, 2, 3},
			want:      []float64{0, 0, 0},
		},
		{
			name:      "signed relative error",
			actual:    []float64{100, 50},
			predicted: []float64{110, 25},
			want:      []float64{-0.1, 0.5},
		},
		{
			name:      "zero actual uses mean fallback",
			actual:    []float64{0, 4, 8},
			predicted: []float64{2, 4, 8},
			want:      []float64{0.5, 0, 0},
			zeroIdx:   []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe, err := PercentageError(tt.actual, tt.predicted)
			require.NoError(t, err)
			require.Len(t, pe.Values, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], pe.Values[i], 1e-12, "index %d", i)
			}
			assert.Equal(t, tt.zeroIdx, pe.ZeroActual)
		})
	}
}

func TestPercentageErrorFailures(t *testing.T) {
	tests := []struct {
		name      string
		actual    []float64
		predicted []float64
		kind      errors.Kind
	}{
		{"length mismatch", []float64{1, 2}, []float64{1}, errors.KindLengthMismatch},
		{"empty", nil, nil, errors.KindDegenerateInput},
		{"all zero actual", []float64{0, 0}, []float64{1, 2}, errors.KindDegenerateInput},
		{"zero mean with zero element", []float64{-1, 0, 1}, []float64{1, 1, 1}, errors.KindDegenerateInput},
		{"nan", []float64{1, math.NaN()}, []float64{1, 1}, errors.KindDegenerateInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PercentageError(tt.actual, tt.predicted)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)

			_, err = MeanAbsolutePercentageError(tt.actual, tt.predicted)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestMeanAbsolutePercentageError(t *testing.T) {
	got, err := MeanAbsolutePercentageError([]float64{100, 50}, []float64{110, 25})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got, 1e-9)

	got, err = MeanAbsolutePercentageError([]float64{50, 50, 50}, []float64{50, 50, 50})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestMeanAbsolutePercentageErrorProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(20)
		a := make([]float64, n)
		p := make([]float64, n)
		for j := range a {
			a[j] = 1 + rng.Float64()*100
			if rng.Intn(5) == 0 {
				a[j] = 0
			}
			p[j] = rng.NormFloat64() * 50
		}
		if a[0] == 0 {
			a[0] = 1
		}

		self, err := MeanAbsolutePercentageError(a, a)
		require.NoError(t, err)
		if len(mustPE(t, a, a).ZeroActual) == 0 {
			assert.Equal(t, 0.0, self)
		}

		got, err := MeanAbsolutePercentageError(a, p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.False(t, math.IsNaN(got) || math.IsInf(got, 0))
	}
}

func mustPE(t *testing.T, a, p []float64) *PercentageErrors {
	t.Helper()
	pe, err := PercentageError(a, p)
	require.NoError(t, err)
	return pe
}

func TestMeanSquaredDeviation(t *testing.T) {
	got, err := MeanSquaredDeviation([]float64{1, 3}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)

	_, err = MeanSquaredDeviation(nil, 2)
	assert.True(t, errors.IsKind(err, errors.KindDegenerateInput))
}
