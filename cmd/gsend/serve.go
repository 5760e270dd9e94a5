package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cirello.io/oversight"
	"github.com/spf13/cobra"

	"github.com/mastercactapus/gsend/machine"
	"github.com/mastercactapus/gsend/machine/grbl"
	"github.com/mastercactapus/gsend/transport"
)

// retryDelay is how long a failed connection waits before it is restarted.
var retryDelay = 3 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and keep the controller connected.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "Address to bind the server to.")
	f.String("dir", "", "Data directory to use.")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Server.Data = dir
	}
	return serve(cmd.Context(), cfg, log)
}

func serve(parent context.Context, cfg Config, log *slog.Logger) error {
	a := newAPI(cfg.Server.Data, log)
	defer a.sse.Shutdown()

	l, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	// the controller child retries forever at its own pace
	tree := oversight.New(
		oversight.WithRestartStrategy(oversight.OneForOne()),
		oversight.NeverHalt(),
		oversight.WithLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn)),
	)
	tree.Add(func(ctx context.Context) error {
		return a.connect(ctx, cfg)
	})

	srv := &http.Server{Handler: a}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	tree.Add(func(ctx context.Context) error {
		log.Info("listening", "addr", l.Addr().String(), "data", cfg.Server.Data)
		err := srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("cannot keep serving anymore: %w", err))
		}
		<-ctx.Done()
		return nil
	})

	err = tree.Start(ctx)
	if parent.Err() != nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// connect runs one controller session and publishes its machine to the
// API while it lasts.
func (a *api) connect(ctx context.Context, cfg Config) error {
	rw, err := transport.Open(ctx, cfg.Port, a.log)
	if err != nil {
		return a.retryLater(ctx, err)
	}

	c := grbl.NewController(rw, cfg.Grbl.controller(a.log))
	a.setMachine(machine.NewMachine(c, a.log))
	defer a.setMachine(nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.pump(ctx, c.Events())

	err = c.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return a.retryLater(ctx, err)
}

func (a *api) retryLater(ctx context.Context, err error) error {
	a.log.Error("controller connection failed", "err", err, "retry", retryDelay)
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(retryDelay):
	}
	return err
}
