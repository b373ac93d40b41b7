package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/episim-calibrate/internal/calibration"
)

func newShowCmd(global *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <study>",
		Short: "Print the trials and the best trial of a stored study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*global)
			if err != nil {
				return err
			}
			rec, err := a.store.Load(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			return calibration.WriteReport(cmd.OutOrStdout(), *rec)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored record as JSON")
	return cmd
}
