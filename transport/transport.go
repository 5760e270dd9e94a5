// Package transport opens the byte stream a controller talks over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/mastercactapus/gsend/machine/grbl/grblsim"
	"github.com/mastercactapus/gsend/spjs"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown transport driver")

const (
	DriverSerial = "serial"
	DriverTarm   = "tarm"
	DriverSPJS   = "spjs"
	DriverSim    = "sim"
)

type Config struct {
	// Driver selects how the port is opened: serial, tarm, spjs or sim.
	Driver string `ini:"driver"`

	// Name is the serial device (or the port name known to SPJS).
	Name string `ini:"name"`
	Baud int    `ini:"baud"`

	// SPJS is the websocket URL of a Serial Port JSON Server.
	SPJS string `ini:"spjs"`

	// SimDelay is the simulated execution time of each line.
	SimDelay time.Duration `ini:"sim_delay"`
}

func DefaultConfig() Config {
	return Config{
		Driver: DriverSerial,
		Name:   "/dev/ttyUSB0",
		Baud:   115200,
		SPJS:   "ws://localhost:8989/ws",
	}
}

// Open opens the port described by cfg. The spjs driver keeps its
// websocket open until ctx is done.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (io.ReadWriteCloser, error) {
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Driver {
	case DriverSerial, "":
		p, err := serial.Open(cfg.Name, &serial.Mode{BaudRate: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
		}
		log.Info("opened serial port", "port", cfg.Name, "baud", cfg.Baud)
		return p, nil
	case DriverTarm:
		p, err := tarm.OpenPort(&tarm.Config{Name: cfg.Name, Baud: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
		}
		log.Info("opened serial port", "port", cfg.Name, "baud", cfg.Baud, "driver", cfg.Driver)
		return p, nil
	case DriverSPJS:
		c := spjs.NewClient(ctx, cfg.SPJS, log)
		p, err := c.Open(cfg.Name, cfg.Baud)
		if err != nil {
			return nil, fmt.Errorf("open %s via %s: %w", cfg.Name, cfg.SPJS, err)
		}
		log.Info("opened remote port", "port", cfg.Name, "server", cfg.SPJS)
		return p, nil
	case DriverSim:
		log.Info("using simulated firmware")
		return grblsim.New(grblsim.Config{LineDelay: cfg.SimDelay, Logger: log}), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

type PortInfo struct {
	Name    string
	Product string
	USB     bool
	VID     string
	PID     string
	Serial  string
}

// Ports lists the serial ports present on this host.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	res := make([]PortInfo, 0, len(details))
	for _, d := range details {
		res = append(res, PortInfo{
			Name:    d.Name,
			Product: d.Product,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
		})
	}
	return res, nil
}
