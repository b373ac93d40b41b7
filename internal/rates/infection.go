// Package rates derives calibration error signals from simulation output.
package rates

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/metric"
	"github.com/copyleftdev/episim-calibrate/internal/table"
)

// InfectionOptions configures InfectionRate.
type InfectionOptions struct {
	// TargetRate is the growth ratio over TargetInterval days the
	// calibration aims for.
	TargetRate float64 `yaml:"target_rate"`
	// TargetInterval is the distance in days between compared counts.
	TargetInterval int `yaml:"target_interval"`
	// DayStart is the first evaluated day.
	DayStart int `yaml:"day_start"`
	// DayEnd is one past the last evaluated day.
	DayEnd int `yaml:"day_end"`
}

// DefaultInfectionOptions returns the window used for unconstrained
// calibration: days [25, 40), ratio over 3 days, target 2.
func DefaultInfectionOptions() InfectionOptions {
	return InfectionOptions{
		TargetRate:     2.0,
		TargetInterval: 3,
		DayStart:       25,
		DayEnd:         40,
	}
}

// Validate checks that the options describe a non-empty window.
func (o InfectionOptions) Validate() error {
	const op = "rates.InfectionOptions"
	switch {
	case o.TargetInterval <= 0:
		return errors.Errorf(errors.KindConfig, op, "target interval must be positive, got %d", o.TargetInterval)
	case o.DayEnd <= o.DayStart:
		return errors.Errorf(errors.KindConfig, op, "empty day range [%d, %d)", o.DayStart, o.DayEnd)
	case math.IsNaN(o.TargetRate) || math.IsInf(o.TargetRate, 0):
		return errors.New(errors.KindConfig, op, "target rate must be finite")
	}
	return nil
}

// InfectionResult is the outcome of InfectionRate.
type InfectionResult struct {
	// MeanRate is the arithmetic mean of Ratios.
	MeanRate float64
	// MSE is the mean squared deviation of Ratios from the target rate.
	MSE float64
	// Ratios holds nTotalInfected(day)/nTotalInfected(day-interval) per day.
	Ratios []float64
}

// InfectionRate loads the output at path and measures infection growth for
// district.
func InfectionRate(path, district string, opts InfectionOptions) (*InfectionResult, error) {
	out, err := table.ReadOutput(path)
	if err != nil {
		return nil, err
	}
	return InfectionRateFromTable(out, district, opts)
}

// InfectionRateFromTable measures infection growth for district. Every day
// in [DayStart-TargetInterval, DayEnd) must have exactly one row.
func InfectionRateFromTable(out *table.Output, district string, opts InfectionOptions) (*InfectionResult, error) {
	const op = "rates.InfectionRate"

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rows := out.Filter(district)
	ratios := make([]float64, 0, opts.DayEnd-opts.DayStart)

	for day := opts.DayStart; day < opts.DayEnd; day++ {
		prev, err := rows.AtDay(day - opts.TargetInterval)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindDataAlignment, op, "district %q", district)
		}
		today, err := rows.AtDay(day)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindDataAlignment, op, "district %q", district)
		}
		if prev.TotalInfected == 0 {
			return nil, errors.Errorf(errors.KindDegenerateInput, op,
				"district %q: nTotalInfected is zero on day %d", district, prev.Day)
		}
		ratios = append(ratios, today.TotalInfected/prev.TotalInfected)
	}

	mse, err := metric.MeanSquaredDeviation(ratios, opts.TargetRate)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindOf(err), op, "")
	}

	return &InfectionResult{
		MeanRate: stat.Mean(ratios, nil),
		MSE:      mse,
		Ratios:   ratios,
	}, nil
}
