package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/server"
	"github.com/copyleftdev/episim-calibrate/internal/telemetry"
)

const defaultServeAddr = ":8080"

func newServeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored studies and their metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*global)
			if err != nil {
				return err
			}
			addr := a.cfg.HTTP.ListenAddr
			if addr == "" {
				addr = defaultServeAddr
			}

			metrics := telemetry.New()
			if err := metrics.Register(telemetry.NewStorageCollector(a.store)); err != nil {
				return errors.Wrap(err, errors.KindInternal, "serve", "register storage collector")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv := server.NewServer(serverConfig(a.cfg), a.store, metrics, a.logger.WithField("service", "calibration-status"))
			return srv.ListenAndServe(ctx, addr)
		},
	}
}
