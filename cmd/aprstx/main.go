// Command aprstx is the I-gate/digipeater daemon's entry point: it
// parses the command line, loads the immutable startup Config, wires
// the supervisor, and runs until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/gmcintire/aprstx/internal/config"
	"github.com/gmcintire/aprstx/internal/logx"
	"github.com/gmcintire/aprstx/internal/supervisor"
)

const (
	exitOK         = 0
	exitConfigErr  = 1
	exitRuntimeErr = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.String("config", "/etc/aprstx/aprstx.conf", "configuration file path")
		debug      = pflag.Bool("debug", false, "verbose logging")
		foreground = pflag.Bool("foreground", false, "do not detach")
		dryRun     = pflag.Bool("dry-run", false, "inhibit all RF and IS transmit")
	)
	pflag.Parse()

	logx.SetDebug(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aprstx: %v\n", err)
		return exitConfigErr
	}
	cfg.Debug = *debug
	cfg.Foreground = *foreground
	cfg.DryRun = *dryRun
	if cfg.DryRun {
		cfg.AprsIs.TxEnable = false
		for i := range cfg.SerialPorts {
			cfg.SerialPorts[i].TxEnable = false
		}
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aprstx: %v\n", err)
		return exitConfigErr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logx.Info("aprstx starting", "config", *configPath, "mycall", cfg.MyCall, "dry_run", cfg.DryRun)
	sup.Run(ctx)
	logx.Info("aprstx stopped")

	return exitOK
}
