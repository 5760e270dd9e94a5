package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	portDriver string
	portName   string
	portBaud   int
	spjsURL    string
)

var rootCmd = &cobra.Command{
	Use:           "gsend",
	Short:         "Stream G-code to GRBL controllers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := DefaultConfig()
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "gsend.ini", "Configuration file.")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	f.StringVar(&portDriver, "driver", def.Port.Driver, "Port driver (serial, tarm, spjs or sim).")
	f.StringVarP(&portName, "port", "p", def.Port.Name, "Port path (or name if using SPJS).")
	f.IntVar(&portBaud, "baud", def.Port.Baud, "Baud rate.")
	f.StringVar(&spjsURL, "spjs", def.Port.SPJS, "Websocket URL of the SPJS server to use.")

	rootCmd.AddCommand(serveCmd, sendCmd, checkCmd, portsCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setup loads the configuration and applies flags given on the command line.
func setup(cmd *cobra.Command) (Config, *slog.Logger, error) {
	log := newLogger()
	slog.SetDefault(log)

	cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, log, err
	}

	f := cmd.Flags()
	if f.Changed("driver") {
		cfg.Port.Driver = portDriver
	}
	if f.Changed("port") {
		cfg.Port.Name = portName
	}
	if f.Changed("baud") {
		cfg.Port.Baud = portBaud
	}
	if f.Changed("spjs") {
		cfg.Port.SPJS = spjsURL
	}

	return cfg, log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		newLogger().Error("gsend failed", "err", err)
		stop()
		os.Exit(1)
	}
}
