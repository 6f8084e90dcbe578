package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cmdCalibrate = &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate the label gap sensor",
		Args:  cobra.NoArgs,
		RunE:  runCalibrate,
	}
)

func init() {
	rootCmd.AddCommand(cmdCalibrate)
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), conf, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.controller.Calibrate(cmd.Context()); err != nil {
		return err
	}
	logger.Info("Calibration requested")
	return nil
}
