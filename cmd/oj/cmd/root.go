// Package cmd implements the oj CLI: a thin client that resolves the
// caller's project root to a namespace and talks to the running ojd
// daemon over its control socket.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"

	configPath string
	namespace  string
)

var rootCmd = &cobra.Command{
	Use:           "oj",
	Short:         "Control client for the oddjobs daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to daemon config.toml (default $OJ_CONFIG or ~/.config/oj/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "C", "", "project root namespace (default: current directory)")
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("oj {{.Version}}\n")
}

// resolvedNamespace returns the effective namespace: the -C flag, or an
// absolute path to the current working directory. A namespace is always
// the absolute project root the daemon resolves runbooks against.
func resolvedNamespace() (string, error) {
	if namespace != "" {
		return filepath.Abs(namespace)
	}
	return os.Getwd()
}

// newClient loads the daemon config (for its socket path) and builds an
// IPC client pointed at it. It does not verify the daemon is running; a
// dead socket surfaces as a connection error on the first Send.
func newClient() (*ipc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(cfg.SockPath()), nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("OJ_CONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default config path: %w", err)
		}
		path = filepath.Join(home, ".config", "oj", "config.toml")
	}
	return config.Load(path)
}

// printEvents reports the events a request produced, one per line, for
// commands that don't have a more specific success message.
func printEvents(events []event.Event) {
	for _, e := range events {
		fmt.Println(e.Type)
	}
}
