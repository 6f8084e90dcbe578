package printer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Niimbot B1 printers expose a single characteristic, used both for writing
// commands and for notifications back from the printer.
var (
	serviceUUID        = mustParseUUID("e7810a71-73ae-499d-8c15-faa9aef0c3f2")
	characteristicUUID = mustParseUUID("bef8d6c9-9c21-4c9e-b632-bd58c1009f9f")
)

const DefaultDeviceName = "B1-G121131120"

var ErrNoDevice = errors.New("No devices found")

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

type BluetoothConnection struct {
	adapter        *bluetooth.Adapter
	address        bluetooth.Address
	device         bluetooth.Device
	characteristic bluetooth.DeviceCharacteristic
	log            *slog.Logger

	mu        sync.Mutex
	connected bool
}

func newBluetoothConnection(logger *slog.Logger) (*BluetoothConnection, error) {
	adapter := bluetooth.DefaultAdapter

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("Failed to enable Bluetooth:\n%w", err)
	}

	conn := &BluetoothConnection{adapter: adapter, log: logger}
	adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			logger.Info("Connected!")
			return
		}
		if d.Address == conn.address && conn.IsConnected() {
			logger.Info("Disconnected!")
			conn.setConnected(false)
		} else {
			logger.Debug("Disconnected event fired but printer is not connected or address doesn't match")
		}
	})

	return conn, nil
}

// FromBluetoothName scans until a printer advertising the given local name is
// found, or the timeout expires.
func FromBluetoothName(name string, timeout time.Duration, logger *slog.Logger) (*BluetoothConnection, error) {
	return scanFor(logger, timeout, func(r bluetooth.ScanResult) bool {
		return r.LocalName() == name
	})
}

// FromBluetoothAddress scans until the printer with the given address is
// found, or the timeout expires.
func FromBluetoothAddress(address string, timeout time.Duration, logger *slog.Logger) (*BluetoothConnection, error) {
	return scanFor(logger, timeout, func(r bluetooth.ScanResult) bool {
		return strings.EqualFold(r.Address.String(), address)
	})
}

func scanFor(logger *slog.Logger, timeout time.Duration, match func(bluetooth.ScanResult) bool) (*BluetoothConnection, error) {
	p, err := newBluetoothConnection(logger)
	if err != nil {
		return nil, fmt.Errorf("Couldn't initialise connection:\n%w", err)
	}

	devices := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := p.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if match(result) {
				logger.Info("Found device:",
					"deviceName", result.LocalName(),
					"address", result.Address.String(),
				)
				select {
				case devices <- result:
				default:
				}
				adapter.StopScan()
			}
		})
		if err != nil {
			logger.Error("Failed to scan for devices:", "err", err)
			close(devices)
		}
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case dev, ok := <-devices:
		if !ok {
			return nil, ErrNoDevice
		}
		p.address = dev.Address
		return p, nil
	case <-timeoutC:
		p.adapter.StopScan()
		return nil, ErrNoDevice
	}
}

func (p *BluetoothConnection) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *BluetoothConnection) setConnected(c bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = c
}

func (p *BluetoothConnection) Write(data []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	_, err := p.characteristic.WriteWithoutResponse(data)
	if err != nil {
		p.log.Error("Couldn't write data", "error", err)
	} else {
		p.log.Debug("Wrote data to device", "size", len(data))
	}

	return err
}

func (p *BluetoothConnection) Disconnect() error {
	if p.IsConnected() {
		p.setConnected(false)
		return p.device.Disconnect()
	}
	return nil
}

func (p *BluetoothConnection) Connect(onData func(data []byte)) error {
	if p.IsConnected() {
		return nil
	}

	if err := p.connect(); err != nil {
		return fmt.Errorf("Couldn't connect to bluetooth printer:\n%w", err)
	}

	// notifications carry status & heartbeat responses from the printer
	if err := p.characteristic.EnableNotifications(onData); err != nil {
		p.device.Disconnect()
		return fmt.Errorf("Couldn't enable notifications:\n%w", err)
	}

	p.setConnected(true)
	return nil
}

func (p *BluetoothConnection) connect() error {
	p.log.Debug("Connecting to device...")
	device, err := p.adapter.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("Failed to connect to device:\n%w", err)
	}

	p.log.Debug("Discovering service...")
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("Failed to discover service %s:\n%w", serviceUUID, err)
	}

	p.log.Debug("Discovering characteristics...")
	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil || len(characteristics) == 0 {
		device.Disconnect()
		return fmt.Errorf("Failed to discover characteristic %s:\n%w", characteristicUUID, err)
	}

	p.characteristic = characteristics[0]
	p.device = device
	return nil
}
