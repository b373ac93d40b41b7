// Package simtest provides an in-process simulation.Runner for tests.
package simtest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/simulation"
)

// Behavior produces the output of a fake simulation run. It may write files
// into inv.Dir. A nonzero exit code makes the runner fail the way a real
// process would.
type Behavior func(ctx context.Context, inv simulation.Invocation) (exitCode int, err error)

// Runner records invocations and delegates to a Behavior.
type Runner struct {
	mu          sync.Mutex
	behavior    Behavior
	invocations []simulation.Invocation
}

// NewRunner returns a Runner that calls b for every invocation.
func NewRunner(b Behavior) *Runner {
	return &Runner{behavior: b}
}

// Run implements simulation.Runner.
func (r *Runner) Run(ctx context.Context, inv simulation.Invocation) (*simulation.Result, error) {
	const op = "simtest.Run"

	r.mu.Lock()
	r.invocations = append(r.invocations, simulation.Invocation{
		Args: append([]string(nil), inv.Args...),
		Dir:  inv.Dir,
	})
	r.mu.Unlock()

	if err := os.MkdirAll(inv.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindSimulationFailed, op, "create trial directory")
	}
	logPath := filepath.Join(inv.Dir, simulation.LogFileName)
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return nil, errors.Wrap(err, errors.KindSimulationFailed, op, "create log")
	}

	start := time.Now()
	code, err := r.behavior(ctx, inv)
	res := &simulation.Result{ExitCode: code, Duration: time.Since(start), LogPath: logPath}
	if err != nil {
		return res, err
	}
	if code != 0 {
		return res, errors.Errorf(errors.KindSimulationFailed, op, "exited with status %d", code)
	}
	return res, nil
}

// Invocations returns a copy of the recorded invocations.
func (r *Runner) Invocations() []simulation.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]simulation.Invocation(nil), r.invocations...)
}

// ExitWith returns a Behavior that writes nothing and exits with code.
func ExitWith(code int) Behavior {
	return func(context.Context, simulation.Invocation) (int, error) {
		return code, nil
	}
}
