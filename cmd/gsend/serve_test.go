package main

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countHandler counts log records with a given message.
type countHandler struct {
	msg string
	n   *atomic.Int32
}

func (countHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h countHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.n.Add(1)
	}
	return nil
}
func (h countHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h countHandler) WithGroup(string) slog.Handler      { return h }

func serveConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Port.Name = filepath.Join(t.TempDir(), "missing")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Data = t.TempDir()
	return cfg
}

func TestServe_KeepsReconnecting(t *testing.T) {
	defer func(d time.Duration) { retryDelay = d }(retryDelay)
	retryDelay = 10 * time.Millisecond

	var n atomic.Int32
	log := slog.New(countHandler{msg: "controller connection failed", n: &n})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, serveConfig(t), log) }()

	require.Eventually(t, func() bool { return n.Load() >= 5 }, 3*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_AddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := serveConfig(t)
	cfg.Server.Addr = l.Addr().String()
	assert.Error(t, serve(context.Background(), cfg, quiet))
}
