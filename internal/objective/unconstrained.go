package objective

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/rates"
)

// UnconstrainedName is the registry name of Unconstrained.
const UnconstrainedName = "unconstrained"

// Names of the parameters and attributes of Unconstrained.
const (
	ParamCalibration      = "calibrationParameter"
	AttrMeanInfectionRate = "mean_infection_rate"
)

// Unconstrained calibrates the infection probability without restrictions
// by matching early infection growth to a target rate.
type Unconstrained struct {
	deps     Deps
	settings UnconstrainedSettings
}

// NewUnconstrained returns the unconstrained objective.
func NewUnconstrained(deps Deps) (*Unconstrained, error) {
	const op = "objective.NewUnconstrained"
	deps, err := deps.validate(op)
	if err != nil {
		return nil, err
	}
	if err := deps.Settings.Unconstrained.Validate(); err != nil {
		return nil, err
	}
	return &Unconstrained{deps: deps, settings: deps.Settings.Unconstrained}, nil
}

// Name implements Objective.
func (o *Unconstrained) Name() string { return UnconstrainedName }

// Evaluate runs the simulation with a sampled calibration parameter and
// returns the mean squared deviation of the growth ratio from its target.
func (o *Unconstrained) Evaluate(ctx context.Context, trial *optimization.Trial) (float64, error) {
	district, scenario, err := target(trial)
	if err != nil {
		return 0, err
	}

	c, err := trial.SuggestFloat(ParamCalibration, o.settings.ParamLow, o.settings.ParamHigh)
	if err != nil {
		return 0, err
	}

	n := trial.Number()
	dir := o.deps.trialDir(o.settings.OutputRoot, n)
	args := []string{
		"scenarioCreation", "trial", scenario,
		"--number", strconv.Itoa(n),
		"--calibParameter", formatParam(c),
	}
	if err := o.deps.simulate(ctx, trial, dir, args, map[string]interface{}{
		"objective": UnconstrainedName,
		"district":  district,
		"scenario":  scenario,
	}); err != nil {
		return 0, err
	}

	res, err := rates.InfectionRate(filepath.Join(dir, OutputFileName), district, o.settings.Infection)
	if err != nil {
		return 0, err
	}
	trial.SetUserAttr(AttrMeanInfectionRate, res.MeanRate)
	return res.MSE, nil
}
