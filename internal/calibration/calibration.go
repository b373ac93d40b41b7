// Package calibration drives a calibration study: it opens the study for an
// objective, records what is calibrated and runs the requested trials.
package calibration

import (
	"context"
	"io"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
	"github.com/copyleftdev/episim-calibrate/internal/objective"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/bayesian"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/kernels"
	"github.com/copyleftdev/episim-calibrate/internal/simulation"
	"github.com/copyleftdev/episim-calibrate/internal/telemetry"
)

// Defaults of the command line.
const (
	DefaultTrials    = 10
	DefaultDistrict  = "Berlin"
	DefaultScenario  = "SnzBerlinScenario"
	DefaultObjective = objective.UnconstrainedName
)

// Options selects what to calibrate.
type Options struct {
	Objective string
	District  string
	Scenario  string
	Trials    int
	FailFast  bool
}

// DefaultOptions returns the options of a plain invocation.
func DefaultOptions() Options {
	return Options{
		Objective: DefaultObjective,
		District:  DefaultDistrict,
		Scenario:  DefaultScenario,
		Trials:    DefaultTrials,
	}
}

// Validate checks the options before any study is touched.
func (o Options) Validate() error {
	const op = "calibration.Options"
	switch {
	case o.Trials < 0:
		return errors.Errorf(errors.KindConfig, op, "number of trials must not be negative, got %d", o.Trials)
	case o.District == "":
		return errors.New(errors.KindConfig, op, "district must not be empty")
	case o.Scenario == "":
		return errors.New(errors.KindConfig, op, "scenario must not be empty")
	}
	return nil
}

// Deps are the collaborators of Run.
type Deps struct {
	Storage  optimization.Storage
	Sampler  optimization.Sampler
	Runner   simulation.Runner
	Settings objective.Settings
	WorkDir  string
	Logger   *logging.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
	// OnStudy is called with the opened study before the first trial.
	OnStudy func(*optimization.Study)
}

// Result is the outcome of Run.
type Result struct {
	Study optimization.StudyRecord
	// Best is nil when no trial has completed.
	Best *optimization.TrialRecord
}

// Run creates or loads the study named after the objective, sets its
// district and scenario and runs opts.Trials trials. The best trial is
// logged and returned together with any error that stopped the loop.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	const op = "calibration.Run"

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Storage == nil {
		return nil, errors.New(errors.KindConfig, op, "storage must not be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.New(logging.InfoLevel, io.Discard)
	}

	obj, err := objective.New(opts.Objective, objective.Deps{
		Runner:   deps.Runner,
		Logger:   logger,
		WorkDir:  deps.WorkDir,
		Settings: deps.Settings,
	})
	if err != nil {
		return nil, err
	}

	studyOpts := []optimization.StudyOption{
		optimization.WithLogger(logger),
		optimization.WithFailFast(opts.FailFast),
	}
	if deps.Sampler != nil {
		studyOpts = append(studyOpts, optimization.WithSampler(deps.Sampler))
	}
	if deps.Metrics != nil {
		studyOpts = append(studyOpts, optimization.WithCallbacks(deps.Metrics.Callback()))
	}

	study, err := optimization.CreateOrLoad(obj.Name(), deps.Storage, studyOpts...)
	if err != nil {
		return nil, err
	}
	if err := study.SetUserAttr(objective.AttrDistrict, opts.District); err != nil {
		return nil, err
	}
	if err := study.SetUserAttr(objective.AttrScenario, opts.Scenario); err != nil {
		return nil, err
	}
	if deps.OnStudy != nil {
		deps.OnStudy(study)
	}

	log := logger.WithFields(map[string]interface{}{
		"study":    study.Name(),
		"district": opts.District,
		"scenario": opts.Scenario,
	})
	log.Info("Starting calibration", map[string]interface{}{
		"trials":          opts.Trials,
		"previous_trials": len(study.Trials()),
	})

	runErr := study.Optimize(ctx, obj.Evaluate, opts.Trials)

	res := &Result{Study: study.Record()}
	if best, err := study.BestTrial(); err == nil {
		res.Best = &best
		log.Info("Best trial", map[string]interface{}{
			"number":     best.Number,
			"value":      *best.Value,
			"params":     best.Params,
			"user_attrs": best.UserAttrs,
		})
	} else {
		log.Warn("No completed trials")
	}

	if runErr != nil {
		return res, errors.Wrapf(runErr, errors.KindOf(runErr), op, "study %q", study.Name())
	}
	return res, nil
}

// SamplerConfig selects and configures a sampler.
type SamplerConfig struct {
	Name          string
	Seed          int64
	StartupTrials int
	Kernel        kernels.Name
}

// NewSampler builds the sampler called cfg.Name: "gp" or "random".
func NewSampler(cfg SamplerConfig, logger *logging.Logger) (optimization.Sampler, error) {
	const op = "calibration.NewSampler"
	switch cfg.Name {
	case "gp", "":
		if logger == nil {
			logger = logging.New(logging.InfoLevel, io.Discard)
		}
		s, err := bayesian.NewSampler(bayesian.Config{
			StartupTrials: cfg.StartupTrials,
			Seed:          cfg.Seed,
			Kernel:        cfg.Kernel,
		}, logging.NewZapLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "random":
		return optimization.NewRandomSampler(cfg.Seed), nil
	default:
		return nil, errors.Errorf(errors.KindConfig, op, "unknown sampler %q, expected gp or random", cfg.Name)
	}
}
