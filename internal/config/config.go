// Package config reads the HCL file describing which printer to talk to and
// how.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

const DefaultPath = "niimprint.hcl"

const (
	TransportBluetooth = "bluetooth"
	TransportSerial    = "serial"
)

type Config struct {
	Printer *PrinterSchema `hcl:"printer,block"`
	Timing  *TimingSchema  `hcl:"timing,block"`
	Server  *ServerSchema  `hcl:"server,block"`
	History *HistorySchema `hcl:"history,block"`
}

type PrinterSchema struct {
	Transport   string `hcl:"transport,optional"`
	Name        string `hcl:"name,optional"`
	Address     string `hcl:"address,optional"`
	ScanTimeout string `hcl:"scan_timeout,optional"`
	Device      string `hcl:"device,optional"`
	Baud        int    `hcl:"baud,optional"`
	Density     int    `hcl:"density,optional"`
	LabelType   int    `hcl:"label_type,optional"`
	Width       int    `hcl:"width,optional"`
	Height      int    `hcl:"height,optional"`
}

type TimingSchema struct {
	DrainInterval     string `hcl:"drain_interval,optional"`
	SettleDelay       string `hcl:"settle_delay,optional"`
	HeartbeatInterval string `hcl:"heartbeat_interval,optional"`
}

type ServerSchema struct {
	Addr    string `hcl:"addr,optional"`
	Metrics *bool  `hcl:"metrics,optional"`
}

type HistorySchema struct {
	Database string `hcl:"database,optional"`
}

func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Read loads the config file at path. Settings missing from the file keep
// their defaults.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	c := new(Config)
	if err := c.Decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Decode(data []byte) error {
	file, diag := hclsyntax.ParseConfig(data, "", hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	diag = gohcl.DecodeBody(file.Body, nil, c)
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	c.applyDefaults()
	return c.Validate()
}

func (c *Config) Encode() ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(c, f.Body())
	return f.Bytes(), nil
}

func (c *Config) applyDefaults() {
	if c.Printer == nil {
		c.Printer = &PrinterSchema{}
	}
	p := c.Printer
	if p.Transport == "" {
		p.Transport = TransportBluetooth
	}
	if p.Name == "" {
		p.Name = printer.DefaultDeviceName
	}
	if p.ScanTimeout == "" {
		p.ScanTimeout = "30s"
	}
	if p.Device == "" {
		p.Device = "/dev/ttyACM0"
	}
	if p.Baud == 0 {
		p.Baud = 115200
	}
	if p.Density == 0 {
		p.Density = 3
	}
	if p.LabelType == 0 {
		p.LabelType = int(protocol.LabelTypeGap)
	}
	if p.Width == 0 {
		p.Width = 240
	}
	if p.Height == 0 {
		p.Height = 128
	}

	defaults := printer.DefaultTiming()
	if c.Timing == nil {
		c.Timing = &TimingSchema{}
	}
	if c.Timing.DrainInterval == "" {
		c.Timing.DrainInterval = defaults.DrainInterval.String()
	}
	if c.Timing.SettleDelay == "" {
		c.Timing.SettleDelay = defaults.SettleDelay.String()
	}
	if c.Timing.HeartbeatInterval == "" {
		c.Timing.HeartbeatInterval = defaults.HeartbeatInterval.String()
	}

	if c.Server == nil {
		c.Server = &ServerSchema{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Metrics == nil {
		metrics := true
		c.Server.Metrics = &metrics
	}

	if c.History == nil {
		c.History = &HistorySchema{}
	}
	if c.History.Database == "" {
		c.History.Database = "file:niimprint.db"
	}
}

func (c *Config) Validate() error {
	p := c.Printer
	switch p.Transport {
	case TransportBluetooth:
	case TransportSerial:
		if p.Device == "" {
			return errors.New("printer.device is required for the serial transport")
		}
		if p.Baud <= 0 {
			return fmt.Errorf("printer.baud must be positive, got %d", p.Baud)
		}
	default:
		return fmt.Errorf("unknown printer.transport %q, expected %q or %q", p.Transport, TransportBluetooth, TransportSerial)
	}

	if p.Density < printer.MinDensity || p.Density > printer.MaxDensity {
		return fmt.Errorf("printer.density must be %d-%d, got %d", printer.MinDensity, printer.MaxDensity, p.Density)
	}
	for name, v := range map[string]int{"label_type": p.LabelType, "width": p.Width, "height": p.Height} {
		if v < 1 || v > 0xFF {
			return fmt.Errorf("printer.%s must be between 1 and 255, got %d", name, v)
		}
	}
	if _, err := p.ScanTimeoutDuration(); err != nil {
		return err
	}

	_, err := c.PrinterTiming()
	return err
}

func (p *PrinterSchema) ScanTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(p.ScanTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid printer.scan_timeout: %w", err)
	}
	return d, nil
}

// PrinterTiming is the timing block converted for the printer controller.
func (c *Config) PrinterTiming() (printer.Timing, error) {
	var t printer.Timing
	fields := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"drain_interval", c.Timing.DrainInterval, &t.DrainInterval},
		{"settle_delay", c.Timing.SettleDelay, &t.SettleDelay},
		{"heartbeat_interval", c.Timing.HeartbeatInterval, &t.HeartbeatInterval},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return printer.Timing{}, fmt.Errorf("invalid timing.%s: %w", f.name, err)
		}
		if d < 0 && f.name != "heartbeat_interval" {
			return printer.Timing{}, fmt.Errorf("timing.%s must not be negative, got %s", f.name, d)
		}
		*f.dest = d
	}
	return t, nil
}

func (c *Config) MetricsEnabled() bool {
	return c.Server.Metrics == nil || *c.Server.Metrics
}
