package objective

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/rates"
)

// OffsetName is the registry name of Offset.
const OffsetName = "offset"

// Names of the parameters and attributes of Offset.
const (
	ParamOffset       = "offset"
	AttrErrorSick     = "error_sick"
	AttrErrorCritical = "error_critical"
)

// Offset searches the start offset in days of a simulation with
// restrictions by comparing hospital occupancy against a reference report.
type Offset struct {
	deps     Deps
	settings OffsetSettings
	opts     rates.HospitalizationOptions
}

// NewOffset returns the offset objective.
func NewOffset(deps Deps) (*Offset, error) {
	const op = "objective.NewOffset"
	deps, err := deps.validate(op)
	if err != nil {
		return nil, err
	}
	opts, err := deps.Settings.Offset.HospitalizationOptions()
	if err != nil {
		return nil, err
	}
	return &Offset{deps: deps, settings: deps.Settings.Offset, opts: opts}, nil
}

// Name implements Objective.
func (o *Offset) Name() string { return OffsetName }

// Evaluate runs the simulation with a sampled offset and returns the sum of
// the hospitalised and critical MAPE.
func (o *Offset) Evaluate(ctx context.Context, trial *optimization.Trial) (float64, error) {
	district, scenario, err := target(trial)
	if err != nil {
		return 0, err
	}

	offset, err := trial.SuggestInt(ParamOffset, o.settings.OffsetLow, o.settings.OffsetHigh)
	if err != nil {
		return 0, err
	}

	n := trial.Number()
	dir := o.deps.trialDir(o.settings.OutputRoot, n)
	args := []string{
		"scenarioCreation", "trial", scenario,
		"--days", strconv.Itoa(o.settings.Days),
		"--number", strconv.Itoa(n),
		"--calibParameter", formatParam(o.settings.CalibrationParameter),
		"--with-restrictions",
		"--offset", strconv.Itoa(offset),
	}
	if err := o.deps.simulate(ctx, trial, dir, args, map[string]interface{}{
		"objective": OffsetName,
		"district":  district,
		"scenario":  scenario,
	}); err != nil {
		return 0, err
	}

	ref := o.settings.ReferencePath
	if !filepath.IsAbs(ref) && o.deps.WorkDir != "" {
		ref = filepath.Join(o.deps.WorkDir, ref)
	}
	res, err := rates.HospitalizationRate(filepath.Join(dir, OutputFileName), district, ref, o.opts)
	if err != nil {
		return 0, err
	}
	trial.SetUserAttr(AttrErrorSick, res.ErrorSick)
	trial.SetUserAttr(AttrErrorCritical, res.ErrorCritical)
	return res.ErrorSick + res.ErrorCritical, nil
}
