// Command ojd is the oddjobs daemon: it owns the WAL, materialized state,
// dispatch engine, and control socket for one state directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/daemon"
	"github.com/oddjobs/oj/internal/logging"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to daemon config.toml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ojd: loading config: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ojd: setting up logging: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ojd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ojd: starting: %v\n", err)
		os.Exit(1)
	}

	if err := d.Wait(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("OJ_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oj/config.toml"
	}
	return filepath.Join(home, ".config", "oj", "config.toml")
}
