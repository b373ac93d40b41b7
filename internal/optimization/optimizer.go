// Package optimization keeps the trial history of a calibration study and
// asks a Sampler for the next parameter values.
package optimization

import (
	"context"
)

// Direction is the optimization direction of a study. Only minimization is
// supported.
type Direction string

// Minimize prefers lower objective values.
const Minimize Direction = "minimize"

// ObjectiveFunction evaluates one trial. It suggests parameters through the
// trial, records attributes on it and returns the scalar error.
type ObjectiveFunction func(ctx context.Context, trial *Trial) (float64, error)

// Sampler proposes a value for one parameter.
type Sampler interface {
	// Sample returns a value inside dist for the parameter name, given the
	// trials recorded so far. history is a snapshot and may be retained.
	Sample(history []TrialRecord, name string, dist Distribution) (float64, error)
}

// Callback is invoked after every finished trial, with the study lock
// released.
type Callback func(study *Study, trial TrialRecord)
