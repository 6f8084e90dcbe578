package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tomgalvin.uk/niimprint/internal/config"
	"tomgalvin.uk/niimprint/internal/history"
	"tomgalvin.uk/niimprint/internal/printer"
)

// session is a connected printer with its controller running.
type session struct {
	conn       printer.Connection
	controller *printer.Controller
	stop       context.CancelFunc
	stopped    chan error
	log        *slog.Logger
}

func openConnection(c *config.Config, log *slog.Logger) (printer.Connection, error) {
	p := c.Printer
	switch p.Transport {
	case config.TransportSerial:
		return printer.NewSerialConnection(p.Device, p.Baud, log), nil
	case config.TransportBluetooth:
		timeout, err := p.ScanTimeoutDuration()
		if err != nil {
			return nil, err
		}
		if p.Address != "" {
			log.Info("Scanning for printer...", "address", p.Address)
			return printer.FromBluetoothAddress(p.Address, timeout, log)
		}
		log.Info("Scanning for printer...", "name", p.Name)
		return printer.FromBluetoothName(p.Name, timeout, log)
	default:
		return nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
}

func openSession(ctx context.Context, c *config.Config, observer printer.Observer) (*session, error) {
	log := logger.With("src", "printer")

	timing, err := c.PrinterTiming()
	if err != nil {
		return nil, err
	}

	conn, err := openConnection(c, log)
	if err != nil {
		return nil, fmt.Errorf("Couldn't find printer:\n%w", err)
	}

	controller := printer.NewController(conn, timing, log)
	controller.SetObserver(observer)
	if err := conn.Connect(controller.Notify); err != nil {
		return nil, fmt.Errorf("Couldn't connect to printer:\n%w", err)
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:       conn,
		controller: controller,
		stop:       stop,
		stopped:    make(chan error, 1),
		log:        log,
	}
	go func() {
		s.stopped <- controller.Run(runCtx)
	}()
	return s, nil
}

func (s *session) Close() error {
	s.stop()
	if err := <-s.stopped; err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Printer controller failed", "error", err)
	}
	return s.conn.Disconnect()
}

// openHistory returns nil when the database can't be opened, as printing
// still works without it.
func openHistory(c *config.Config) *history.Repository {
	repo, err := history.Open(c.History.Database)
	if err != nil {
		logger.Warn("Job history unavailable", "database", c.History.Database, "error", err)
		return nil
	}
	return repo
}
