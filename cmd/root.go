// Package cmd is the niimprint command line.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"tomgalvin.uk/niimprint/internal/config"
)

var (
	rootCmd = &cobra.Command{
		Use:               "niimprint",
		Short:             "Print labels on Niimbot B1 printers.",
		Long:              ``,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

var configPath string
var debug bool
var jsonLogs bool

var logger *slog.Logger
var conf *config.Config

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug logging, including every frame sent")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log as JSON")
}

func setup(cmd *cobra.Command, _ []string) error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if jsonLogs {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)

	var err error
	conf, err = loadConfig(configPath, cmd.Flags().Changed("config"))
	return err
}

// loadConfig falls back to the defaults when the default config file
// doesn't exist. A file named on the command line must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	c, err := config.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			logger.Debug("No config file, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return c, nil
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
