package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/episim-calibrate/internal/calibration"
	"github.com/copyleftdev/episim-calibrate/internal/config"
	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
	"github.com/copyleftdev/episim-calibrate/internal/objective"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/storage"
	"github.com/copyleftdev/episim-calibrate/internal/server"
	"github.com/copyleftdev/episim-calibrate/internal/simulation"
	"github.com/copyleftdev/episim-calibrate/internal/telemetry"
)

// globalFlags are shared by all commands and override the environment.
type globalFlags struct {
	storageDir string
	logLevel   string
	listen     string
}

// runFlags configure a calibration run.
type runFlags struct {
	district  string
	scenario  string
	objective string
	config    string
	sampler   string
	seed      int64
	failFast  bool
}

// app holds what every command needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *storage.FSStore
}

func newRootCmd() *cobra.Command {
	var global globalFlags
	var run runFlags

	root := &cobra.Command{
		Use:   "calibrate [N]",
		Short: "Calibrate episim scenarios against observed data",
		Long: `Calibrate runs N simulation trials (default 10) and searches the
parameter that minimizes the error of the selected objective. Trials are
stored per objective and numbering continues across runs.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := calibration.DefaultTrials
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.Wrapf(err, errors.KindConfig, "calibrate", "number of trials %q", args[0])
				}
				n = v
			}
			a, err := setup(global)
			if err != nil {
				return err
			}
			return runCalibration(cmd, a, run, n)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&global.storageDir, "storage-dir", "", "study storage directory (default $CALIB_STORAGE_DIR or calibration-studies)")
	pf.StringVar(&global.logLevel, "log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL)")
	pf.StringVar(&global.listen, "listen", "", "serve study status and metrics on this address (default $CALIB_LISTEN_ADDR)")

	f := root.Flags()
	f.StringVar(&run.district, "district", calibration.DefaultDistrict, "district to calibrate")
	f.StringVar(&run.scenario, "scenario", calibration.DefaultScenario, "scenario passed to the simulation")
	f.StringVar(&run.objective, "objective", calibration.DefaultObjective, "objective: "+strings.Join(objective.Names(), ", "))
	f.StringVar(&run.config, "config", "", "YAML file with objective settings")
	f.StringVar(&run.sampler, "sampler", "", "sampler: gp or random (default $CALIB_SAMPLER or gp)")
	f.Int64Var(&run.seed, "seed", 0, "sampler seed, 0 seeds from the clock (default $CALIB_SEED)")
	f.BoolVar(&run.failFast, "fail-fast", false, "stop at the first failed trial")

	root.AddCommand(newShowCmd(&global))
	root.AddCommand(newServeCmd(&global))
	return root
}

// setup loads the environment configuration, applies global flags and opens
// the logger and the study storage.
func setup(global globalFlags) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if global.storageDir != "" {
		cfg.Storage.Dir = global.storageDir
	}
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}
	if global.listen != "" {
		cfg.HTTP.ListenAddr = global.listen
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, "calibrate", "logger")
	}

	store, err := storage.NewFSStore(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}
}

func runCalibration(cmd *cobra.Command, a *app, run runFlags, n int) error {
	flags := cmd.Flags()
	if flags.Changed("sampler") {
		a.cfg.Sampler.Name = run.sampler
	}
	if flags.Changed("seed") {
		a.cfg.Sampler.Seed = run.seed
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	settings, err := config.LoadSettings(run.config)
	if err != nil {
		return err
	}

	runner, err := simulation.NewExecRunner(a.cfg.Simulation.Command,
		simulation.WithTimeout(a.cfg.Simulation.Timeout),
		simulation.WithWorkDir(a.cfg.Simulation.WorkDir),
		simulation.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	sampler, err := calibration.NewSampler(calibration.SamplerConfig{
		Name:          a.cfg.Sampler.Name,
		Seed:          a.cfg.Sampler.Seed,
		StartupTrials: a.cfg.Sampler.StartupTrials,
		Kernel:        a.cfg.Sampler.Kernel,
	}, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	metrics := telemetry.New()
	deps := calibration.Deps{
		Storage:  a.store,
		Sampler:  sampler,
		Runner:   runner,
		Settings: settings,
		WorkDir:  a.cfg.Simulation.WorkDir,
		Logger:   a.logger,
		Metrics:  metrics,
	}

	serveErr := make(chan error, 1)
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if addr := a.cfg.HTTP.ListenAddr; addr != "" {
		srv := server.NewServer(serverConfig(a.cfg), a.store, metrics, a.logger)
		deps.OnStudy = srv.Track
		go func() { serveErr <- srv.ListenAndServe(srvCtx, addr) }()
	} else {
		close(serveErr)
	}

	_, runErr := calibration.Run(ctx, deps, calibration.Options{
		Objective: run.objective,
		District:  run.district,
		Scenario:  run.scenario,
		Trials:    n,
		FailFast:  run.failFast,
	})

	stopServer()
	if err := <-serveErr; err != nil && runErr == nil {
		return err
	}
	if runErr != nil && ctx.Err() != nil {
		a.logger.Warn("Calibration interrupted")
	}
	return runErr
}
