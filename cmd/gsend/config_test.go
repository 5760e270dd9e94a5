package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gsend/transport"
)

func TestLoadConfig(t *testing.T) {
	name := writeTemp(t, "gsend.ini", `
[port]
driver = sim
sim_delay = 5ms

[grbl]
status_interval = 100ms
jog_feed = 500
block_delete = true

[server]
addr = :8080
`)

	cfg, err := loadConfig(name, true)
	require.NoError(t, err)

	assert.Equal(t, transport.DriverSim, cfg.Port.Driver)
	assert.Equal(t, 5*time.Millisecond, cfg.Port.SimDelay)
	assert.Equal(t, 115200, cfg.Port.Baud)

	assert.Equal(t, 100*time.Millisecond, cfg.Grbl.StatusInterval)
	assert.Equal(t, 500.0, cfg.Grbl.JogFeed)
	assert.Equal(t, 1.0, cfg.Grbl.JogStep)
	assert.True(t, cfg.Grbl.BlockDelete)
	assert.Equal(t, 128, cfg.Grbl.RXBuffer)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data", cfg.Server.Data)

	c := cfg.Grbl.controller(quiet)
	assert.Equal(t, 300*time.Millisecond, c.JogTimeout)
	assert.Same(t, quiet, c.Logger)
}

func TestLoadConfig_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gsend.ini")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)
}
