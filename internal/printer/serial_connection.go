package printer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConnection talks to a printer plugged in over USB, which shows up as
// a serial port carrying the same frames as the bluetooth link.
type SerialConnection struct {
	config *serial.Config
	log    *slog.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
	done chan struct{}
}

// Read timeout of the serial port, so the reader loop notices a disconnect.
const serialReadTimeout = 100 * time.Millisecond

func NewSerialConnection(device string, baud int, logger *slog.Logger) *SerialConnection {
	return &SerialConnection{
		config: &serial.Config{
			Name:        device,
			Baud:        baud,
			ReadTimeout: serialReadTimeout,
		},
		log: logger,
	}
}

func (s *SerialConnection) Connect(onData func(data []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}

	port, err := serial.OpenPort(s.config)
	if err != nil {
		return fmt.Errorf("Couldn't open serial port %s:\n%w", s.config.Name, err)
	}
	s.attach(port, onData)
	return nil
}

// attach starts reading from an already open port.
func (s *SerialConnection) attach(port io.ReadWriteCloser, onData func(data []byte)) {
	s.port = port
	s.done = make(chan struct{})
	go s.readLoop(port, s.done, onData)
	s.log.Info("Connected!", "device", s.config.Name)
}

func (s *SerialConnection) readLoop(port io.Reader, done chan struct{}, onData func(data []byte)) {
	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			// a read timeout surfaces as EOF
			if errors.Is(err, io.EOF) {
				continue
			}
			s.log.Error("Couldn't read from serial port", "error", err)
			return
		}
	}
}

func (s *SerialConnection) Write(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	if _, err := port.Write(data); err != nil {
		s.log.Error("Couldn't write data", "error", err)
		return err
	}
	s.log.Debug("Wrote data to device", "size", len(data))
	return nil
}

func (s *SerialConnection) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}

	close(s.done)
	err := s.port.Close()
	s.port = nil
	s.log.Info("Disconnected!", "device", s.config.Name)
	return err
}
