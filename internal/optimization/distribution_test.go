package optimization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionValidate(t *testing.T) {
	tests := []struct {
		name    string
		dist    Distribution
		wantErr bool
	}{
		{"float", FloatDistribution(0.5e-6, 3e-6), false},
		{"int", IntDistribution(-8, 8), false},
		{"single value", IntDistribution(3, 3), false},
		{"reversed", FloatDistribution(1, 0), true},
		{"nan", FloatDistribution(math.NaN(), 1), true},
		{"inf", FloatDistribution(0, math.Inf(1)), true},
		{"fractional int", Distribution{Kind: IntKind, Low: 0.5, High: 2}, true},
		{"unknown kind", Distribution{Kind: "log", Low: 0, High: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dist.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDistributionUnitRoundTrip(t *testing.T) {
	d := IntDistribution(-8, 8)
	assert.Equal(t, -8.0, d.FromUnit(-1))
	assert.Equal(t, 8.0, d.FromUnit(2))
	assert.Equal(t, 0.0, d.FromUnit(0.5))
	for v := -8; v <= 8; v++ {
		assert.Equal(t, float64(v), d.FromUnit(d.ToUnit(float64(v))))
	}

	f := FloatDistribution(0.5e-6, 3e-6)
	assert.InDelta(t, 1.75e-6, f.FromUnit(0.5), 1e-18)
	assert.Equal(t, 0.5, IntDistribution(2, 2).ToUnit(2))
}

func TestSampleUniformStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dists := []Distribution{FloatDistribution(0.5e-6, 3e-6), IntDistribution(-8, 8), IntDistribution(0, 0)}

	for _, d := range dists {
		seen := map[float64]bool{}
		for i := 0; i < 2000; i++ {
			v := SampleUniform(rng, d)
			require.True(t, d.Contains(v), "%v not in %+v", v, d)
			seen[v] = true
		}
		if d.Kind == IntKind {
			assert.Len(t, seen, int(d.High-d.Low)+1)
		}
	}
}

func TestRandomSamplerDeterministicWithSeed(t *testing.T) {
	a, b := NewRandomSampler(7), NewRandomSampler(7)
	d := FloatDistribution(0, 1)
	for i := 0; i < 10; i++ {
		va, err := a.Sample(nil, "x", d)
		require.NoError(t, err)
		vb, err := b.Sample(nil, "x", d)
		require.NoError(t, err)
		assert.Equal(t, va, vb)
	}

	_, err := a.Sample(nil, "x", FloatDistribution(1, 0))
	assert.Error(t, err)
}
