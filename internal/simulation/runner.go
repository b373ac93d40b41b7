// Package simulation starts the external epidemic simulation as a child
// process.
package simulation

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
)

// LogFileName is the name of the captured stdout/stderr file inside the
// trial directory.
const LogFileName = "simulation.log"

// DefaultCommand is the base command used when none is configured.
var DefaultCommand = []string{"java", "-jar", "matsim-episim-1.0-SNAPSHOT.jar"}

// Invocation describes one simulation run.
type Invocation struct {
	// Args are appended to the runner's base command.
	Args []string
	// Dir receives the log file. It is created if missing.
	Dir string
}

// Result describes a finished simulation process.
type Result struct {
	ExitCode int
	Duration time.Duration
	LogPath  string
}

// Runner runs a simulation to completion.
type Runner interface {
	// Run starts the process and waits for it. A non-nil Result is returned
	// whenever the process was started, including on a nonzero exit.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner runs the simulation with os/exec. No shell is involved.
type ExecRunner struct {
	command []string
	timeout time.Duration
	workDir string
	env     []string
	logger  *logging.Logger
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithTimeout kills the process after d. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *ExecRunner) { r.timeout = d }
}

// WithWorkDir sets the working directory of the child process.
func WithWorkDir(dir string) Option {
	return func(r *ExecRunner) { r.workDir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) { r.env = append(r.env, env...) }
}

// WithLogger sets the logger used for process lifecycle messages.
func WithLogger(l *logging.Logger) Option {
	return func(r *ExecRunner) { r.logger = l }
}

// NewExecRunner returns a runner for the given base command. An empty
// command selects DefaultCommand.
func NewExecRunner(command []string, opts ...Option) (*ExecRunner, error) {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if strings.TrimSpace(command[0]) == "" {
		return nil, errors.New(errors.KindConfig, "simulation.NewExecRunner", "empty executable name")
	}
	r := &ExecRunner{
		command: append([]string(nil), command...),
		logger:  logging.New(logging.InfoLevel, os.Stderr),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout < 0 {
		return nil, errors.Errorf(errors.KindConfig, "simulation.NewExecRunner", "negative timeout %s", r.timeout)
	}
	return r, nil
}

// Command returns the full argv for inv.
func (r *ExecRunner) Command(inv Invocation) []string {
	argv := make([]string, 0, len(r.command)+len(inv.Args))
	argv = append(argv, r.command...)
	return append(argv, inv.Args...)
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	const op = "simulation.Run"

	if inv.Dir == "" {
		return nil, errors.New(errors.KindConfig, op, "invocation has no output directory")
	}
	if err := os.MkdirAll(inv.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindSimulationFailed, op, "create %s", inv.Dir)
	}

	logPath := filepath.Join(inv.Dir, LogFileName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindSimulationFailed, op, "create %s", logPath)
	}
	defer logFile.Close()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	argv := r.Command(inv)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	log := r.logger.WithFields(map[string]interface{}{
		"command":  strings.Join(argv, " "),
		"log_path": logPath,
	})
	log.Debug("Starting simulation")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, errors.KindSimulationFailed, op, "start %s", argv[0])
	}
	waitErr := cmd.Wait()

	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
		LogPath:  logPath,
	}

	log = log.WithFields(map[string]interface{}{
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
	})

	if waitErr == nil {
		log.Info("Simulation finished")
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn("Simulation interrupted")
		return res, errors.Wrapf(ctxErr, errors.KindSimulationFailed, op, "%s interrupted", argv[0])
	}

	var exitErr *exec.ExitError
	if stderrors.As(waitErr, &exitErr) {
		log.Warn("Simulation exited with nonzero status")
		return res, errors.Errorf(errors.KindSimulationFailed, op,
			"%s exited with status %d, see %s", argv[0], res.ExitCode, logPath)
	}
	return res, errors.Wrap(waitErr, errors.KindSimulationFailed, op, fmt.Sprintf("wait for %s", argv[0]))
}
