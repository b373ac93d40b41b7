// Package objective maps a calibration trial to one simulation run and an
// error value.
package objective

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/simulation"
)

// Study attributes read by every objective.
const (
	AttrDistrict = "district"
	AttrScenario = "scenario"
)

// Trial attributes recorded by every objective.
const (
	AttrExitCode = "simulation_exit_code"
	AttrSeconds  = "simulation_seconds"
)

// OutputFileName is the simulation output inside a trial directory.
const OutputFileName = "infections.txt"

// Objective evaluates a trial by running the simulation.
type Objective interface {
	Name() string
	Evaluate(ctx context.Context, trial *optimization.Trial) (float64, error)
}

// Deps are the collaborators shared by all objectives.
type Deps struct {
	Runner simulation.Runner
	Logger *logging.Logger
	// WorkDir is the simulation working directory. Relative output roots
	// are resolved against it.
	WorkDir string
	// Settings defaults to DefaultSettings when zero.
	Settings Settings
}

// Factory builds an objective.
type Factory func(Deps) (Objective, error)

var registry = map[string]Factory{
	UnconstrainedName: func(d Deps) (Objective, error) {
		o, err := NewUnconstrained(d)
		if err != nil {
			return nil, err
		}
		return o, nil
	},
	OffsetName: func(d Deps) (Objective, error) {
		o, err := NewOffset(d)
		if err != nil {
			return nil, err
		}
		return o, nil
	},
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the objective called name.
func New(name string, deps Deps) (Objective, error) {
	const op = "objective.New"
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf(errors.KindConfig, op, "unknown objective %q, expected one of %s",
			name, strings.Join(Names(), ", "))
	}
	return f(deps)
}

func (d Deps) validate(op string) (Deps, error) {
	if d.Runner == nil {
		return d, errors.New(errors.KindConfig, op, "simulation runner must not be nil")
	}
	if d.Logger == nil {
		d.Logger = logging.New(logging.InfoLevel, io.Discard)
	}
	if d.Settings == (Settings{}) {
		d.Settings = DefaultSettings()
	}
	return d, nil
}

// trialDir returns <root>/<n>, resolved against the working directory.
func (d Deps) trialDir(root string, n int) string {
	if !filepath.IsAbs(root) && d.WorkDir != "" {
		root = filepath.Join(d.WorkDir, root)
	}
	return filepath.Join(root, strconv.Itoa(n))
}

// target reads the district and scenario the study calibrates.
func target(trial *optimization.Trial) (district, scenario string, err error) {
	study := trial.Study()
	if district, err = study.StringAttr(AttrDistrict); err != nil {
		return "", "", err
	}
	if scenario, err = study.StringAttr(AttrScenario); err != nil {
		return "", "", err
	}
	return district, scenario, nil
}

// formatParam renders a calibration parameter with twelve decimals.
func formatParam(v float64) string {
	return strconv.FormatFloat(v, 'f', 12, 64)
}

// simulate runs one invocation and records its exit code and duration on
// the trial, also when the run failed.
func (d Deps) simulate(ctx context.Context, trial *optimization.Trial, dir string, args []string, fields map[string]interface{}) error {
	log := d.Logger.WithFields(fields).WithFields(map[string]interface{}{
		"trial": trial.Number(),
		"args":  strings.Join(args, " "),
	})
	log.Info("Running simulation")

	res, err := d.Runner.Run(ctx, simulation.Invocation{Args: args, Dir: dir})
	if res != nil {
		trial.SetUserAttr(AttrExitCode, res.ExitCode)
		trial.SetUserAttr(AttrSeconds, res.Duration.Seconds())
	}
	if err != nil {
		log.WithError(err).Warn("Simulation failed")
		return err
	}
	return nil
}
