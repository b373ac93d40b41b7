// Package metric computes disagreement between reference and simulated
// time series.
package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// PercentageErrors holds the signed per-index relative errors of a
// prediction.
type PercentageErrors struct {
	// Values[i] is (actual[i]-predicted[i])/actual[i], or
	// predicted[i]/mean(actual) where actual[i] is zero.
	Values []float64
	// ZeroActual lists the indices that used the mean fallback.
	ZeroActual []int
}

// PercentageError returns the relative error of predicted against actual.
//
// Where actual[i] is zero the term is rescaled by the mean of actual
// instead; those indices are reported in ZeroActual. The fallback is
// itself undefined when the mean is zero, which is reported as a
// degenerate input.
func PercentageError(actual, predicted []float64) (*PercentageErrors, error) {
	const op = "metric.PercentageError"

	if len(actual) != len(predicted) {
		return nil, errors.Errorf(errors.KindLengthMismatch, op,
			"actual has %d values, predicted has %d", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return nil, errors.New(errors.KindDegenerateInput, op, "empty input")
	}
	if !allFinite(actual) || !allFinite(predicted) {
		return nil, errors.New(errors.KindDegenerateInput, op, "input contains NaN or Inf")
	}

	mean := stat.Mean(actual, nil)
	res := &PercentageErrors{Values: make([]float64, len(actual))}

	for i, a := range actual {
		if a != 0 {
			res.Values[i] = (a - predicted[i]) / a
			continue
		}
		if mean == 0 {
			return nil, errors.Errorf(errors.KindDegenerateInput, op,
				"actual[%d] is zero and mean(actual) is zero", i)
		}
		res.Values[i] = predicted[i] / mean
		res.ZeroActual = append(res.ZeroActual, i)
	}

	return res, nil
}

// MeanAbsolutePercentageError returns mean(|PercentageError(yTrue, yPred)|) * 100.
func MeanAbsolutePercentageError(yTrue, yPred []float64) (float64, error) {
	pe, err := PercentageError(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindOf(err), "metric.MeanAbsolutePercentageError", "")
	}

	abs := make([]float64, len(pe.Values))
	for i, v := range pe.Values {
		abs[i] = math.Abs(v)
	}
	return stat.Mean(abs, nil) * 100, nil
}

// MeanSquaredDeviation returns mean((values[i]-target)^2).
func MeanSquaredDeviation(values []float64, target float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New(errors.KindDegenerateInput, "metric.MeanSquaredDeviation", "empty input")
	}

	dev := make([]float64, len(values))
	copy(dev, values)
	floats.AddConst(-target, dev)
	floats.Mul(dev, dev)
	return stat.Mean(dev, nil), nil
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
