package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cmdConfig = &cobra.Command{
		Use:   "config",
		Short: "Print the configuration in use, with defaults filled in",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
)

func init() {
	rootCmd.AddCommand(cmdConfig)
}

func runConfig(_ *cobra.Command, _ []string) error {
	data, err := conf.Encode()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
