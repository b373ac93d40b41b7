package optimization

import (
	"math"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// DistributionKind names the value domain of a parameter.
type DistributionKind string

const (
	// FloatKind is a continuous uniform range.
	FloatKind DistributionKind = "float"
	// IntKind is an inclusive uniform integer range.
	IntKind DistributionKind = "int"
)

// Distribution is the declared range of a parameter.
type Distribution struct {
	Kind DistributionKind `json:"kind"`
	Low  float64          `json:"low"`
	High float64          `json:"high"`
}

// FloatDistribution returns a uniform float range [low, high].
func FloatDistribution(low, high float64) Distribution {
	return Distribution{Kind: FloatKind, Low: low, High: high}
}

// IntDistribution returns a uniform integer range [low, high].
func IntDistribution(low, high int) Distribution {
	return Distribution{Kind: IntKind, Low: float64(low), High: float64(high)}
}

// Validate checks that the range is finite and ordered.
func (d Distribution) Validate() error {
	const op = "optimization.Distribution"
	switch {
	case d.Kind != FloatKind && d.Kind != IntKind:
		return errors.Errorf(errors.KindConfig, op, "unknown distribution kind %q", d.Kind)
	case math.IsNaN(d.Low) || math.IsNaN(d.High) || math.IsInf(d.Low, 0) || math.IsInf(d.High, 0):
		return errors.New(errors.KindConfig, op, "bounds must be finite")
	case d.Low > d.High:
		return errors.Errorf(errors.KindConfig, op, "low %g exceeds high %g", d.Low, d.High)
	case d.Kind == IntKind && (d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High)):
		return errors.Errorf(errors.KindConfig, op, "integer bounds [%g, %g] are not integral", d.Low, d.High)
	}
	return nil
}

// Contains reports whether v is a legal value of d.
func (d Distribution) Contains(v float64) bool {
	if math.IsNaN(v) || v < d.Low || v > d.High {
		return false
	}
	return d.Kind != IntKind || v == math.Trunc(v)
}

// ToUnit maps v from [Low, High] to [0, 1].
func (d Distribution) ToUnit(v float64) float64 {
	if d.High == d.Low {
		return 0.5
	}
	return (v - d.Low) / (d.High - d.Low)
}

// FromUnit maps u from [0, 1] back into the distribution, clamping and
// rounding integers to the nearest legal value.
func (d Distribution) FromUnit(u float64) float64 {
	u = math.Max(0, math.Min(1, u))
	v := d.Low + u*(d.High-d.Low)
	if d.Kind == IntKind {
		v = math.Round(v)
	}
	return math.Max(d.Low, math.Min(d.High, v))
}
