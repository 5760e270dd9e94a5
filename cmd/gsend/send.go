package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/machine"
	"github.com/mastercactapus/gsend/machine/grbl"
	"github.com/mastercactapus/gsend/transport"
)

var (
	sendUnlock      bool
	sendLevel       string
	sendGranularity float64
	readyTimeout    = 10 * time.Second
)

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Stream a program and wait for it to finish.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	f := sendCmd.Flags()
	f.BoolVar(&sendUnlock, "unlock", false, "Clear an alarm before sending.")
	f.StringVar(&sendLevel, "level", "", "Probe results (JSON) to level the program against.")
	f.Float64Var(&sendGranularity, "granularity", 1, "Longest XY move left unsplit when leveling, in mm.")
}

// connect opens the port and runs a controller on it. The returned
// stop function shuts the controller down and reports why it ended.
func connect(ctx context.Context, cfg Config, log *slog.Logger) (*grbl.Controller, func() error, error) {
	rw, err := transport.Open(ctx, cfg.Port, log)
	if err != nil {
		return nil, nil, err
	}
	c := grbl.NewController(rw, cfg.Grbl.controller(log))

	ctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	return c, func() error {
		cancel()
		err := <-errc
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, nil
}

// waitReady waits for the controller to report Idle, unlocking an
// alarm once if unlock is set.
func waitReady(ctx context.Context, c *grbl.Controller, unlock bool) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		snap := c.Snapshot()
		switch {
		case snap.Idle():
			return nil
		case snap.Status == "Alarm" && unlock:
			err := c.Unlock()
			if err != nil {
				return err
			}
			unlock = false
		case snap.Status == "Alarm":
			return fmt.Errorf("controller in alarm (%s), use --unlock to clear", snap.Error)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("controller not ready: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func loadProbes(name string) ([]machine.ProbeResult, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var res []machine.ProbeResult
	err = json.Unmarshal(data, &res)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return res, nil
}

func runSend(cmd *cobra.Command, args []string) (err error) {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	blocks, err := gcode.Parse(string(data))
	if err != nil {
		return err
	}

	c, stop, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, stop()) }()

	err = waitReady(ctx, c, sendUnlock)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watch(watchCtx, c, bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), log)

	m := machine.NewMachine(c, log)
	start := time.Now()
	if sendLevel != "" {
		probes, err := loadProbes(sendLevel)
		if err != nil {
			return err
		}
		err = m.RunPlugin(ctx, machine.MeshLevel{
			Program:     blocks,
			Points:      machine.ValidProbes(probes),
			Granularity: sendGranularity,
		})
		if err != nil {
			return err
		}
	} else {
		err = m.Run(ctx, blocks)
		if err != nil {
			return err
		}
	}

	log.Info("program complete", "file", args[0], "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// watch logs progress and prompts to resume whenever the program pauses.
func watch(ctx context.Context, c *grbl.Controller, in *bufio.Reader, out io.Writer, log *slog.Logger) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()

	last := c.Snapshot().Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := c.Snapshot()
			log.Info("progress", "state", snap.Status, "sent", snap.Sent, "total", snap.Total)
		case snap := <-c.Events():
			if snap.Status == "Hold" && last != "Hold" {
				if snap.Message != "" {
					fmt.Fprintf(out, "paused: %s\n", snap.Message)
				}
				fmt.Fprintln(out, "press enter to resume")
				_, err := in.ReadString('\n')
				if err != nil {
					return
				}
				err = c.Resume()
				if err != nil {
					log.Error("resume", "err", err)
				}
			}
			last = snap.Status
		}
	}
}
