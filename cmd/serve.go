package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"tomgalvin.uk/niimprint/internal/metrics"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/server"
)

var (
	cmdServe = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP print API",
		Long:  `Connect to the printer and keep the connection open, accepting print jobs over HTTP.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

var serveAddr string

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(cmdServe)
	cmdServe.Flags().StringVarP(&serveAddr, "addr", "a", "", "Address to listen on (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.With("src", "server")

	var observer printer.Observer
	var metricsHandler http.Handler
	if conf.MetricsEnabled() {
		reg := prometheus.NewRegistry()
		observer = metrics.New(reg)

		// Add the default go metrics
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          reg,
		})
	}

	s, err := openSession(ctx, conf, observer)
	if err != nil {
		return err
	}
	defer s.Close()

	repo := openHistory(conf)
	if repo != nil {
		defer repo.Close()
	}

	p := conf.Printer
	api := server.NewServer(log, s.controller, repo, server.Defaults{
		Width:     byte(p.Width),
		Height:    byte(p.Height),
		Density:   byte(p.Density),
		LabelType: byte(p.LabelType),
	})

	addr := serveAddr
	if addr == "" {
		addr = conf.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Couldn't shut down cleanly", "error", err)
		}
	}()

	log.Info("Listening", "addr", addr, "metrics", metricsHandler != nil)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
