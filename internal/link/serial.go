package link

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/savegress/labsync/internal/config"
)

// Port is an instrument serial port. Reads that time out fail with
// os.ErrDeadlineExceeded so a Session can tell an idle line from a closed one.
type Port struct {
	port serial.Port
	name string
}

// OpenSerial opens the serial port described by cfg.
func OpenSerial(cfg *config.SerialConfig) (*Port, error) {
	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}

	p := &Port{port: port, name: cfg.Port}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
		}
	}
	return p, nil
}

func serialMode(cfg *config.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch strings.ToUpper(cfg.Parity) {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", cfg.StopBits)
	}

	return mode, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.name }

func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *Port) Close() error { return p.port.Close() }

// SetReadDeadline maps a deadline onto the port's read timeout. The zero
// time blocks reads until data arrives.
func (p *Port) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return p.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return p.port.SetReadTimeout(d)
}
