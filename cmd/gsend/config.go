package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/ini.v1"

	"github.com/mastercactapus/gsend/machine/grbl"
	"github.com/mastercactapus/gsend/transport"
)

type Config struct {
	Port   transport.Config `ini:"port"`
	Grbl   GrblConfig       `ini:"grbl"`
	Server ServerConfig     `ini:"server"`
}

type GrblConfig struct {
	RXBuffer       int           `ini:"rx_buffer"`
	StatusInterval time.Duration `ini:"status_interval"`
	JogTimeout     time.Duration `ini:"jog_timeout"`
	JogStep        float64       `ini:"jog_step"`
	JogFeed        float64       `ini:"jog_feed"`
	BlockDelete    bool          `ini:"block_delete"`
}

type ServerConfig struct {
	Addr string `ini:"addr"`
	Data string `ini:"data"`
}

func DefaultConfig() Config {
	g := grbl.DefaultConfig()
	return Config{
		Port: transport.DefaultConfig(),
		Grbl: GrblConfig{
			RXBuffer:       g.RXBuffer,
			StatusInterval: g.StatusInterval,
			JogTimeout:     g.JogTimeout,
			JogStep:        g.JogStep,
			JogFeed:        g.JogFeed,
		},
		Server: ServerConfig{
			Addr: ":9091",
			Data: "./data",
		},
	}
}

func (c GrblConfig) controller(log *slog.Logger) grbl.Config {
	return grbl.Config{
		RXBuffer:       c.RXBuffer,
		StatusInterval: c.StatusInterval,
		JogTimeout:     c.JogTimeout,
		JogStep:        c.JogStep,
		JogFeed:        c.JogFeed,
		BlockDelete:    c.BlockDelete,
		Logger:         log,
	}
}

// loadConfig reads path over the defaults. A missing file is only an
// error when required is set.
func loadConfig(path string, required bool) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}

	err = ini.MapTo(&cfg, path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
