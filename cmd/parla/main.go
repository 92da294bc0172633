// Command parla is the entry point for the parla voice assistant server and
// its administration client.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parla/internal/config"
)

var (
	configPath string
	apiAddr    string
)

var rootCmd = &cobra.Command{
	Use:   "parla",
	Short: "Voice assistant server",
	Long: `parla accepts streamed microphone audio over a websocket, recognises
what was said, routes the request to a tool or a completion backend and
sends back the answer.

  parla serve              start the server
  parla chat               talk to the assistant in text mode
  parla tools list         administer tools on a running server`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "parla.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:8765", "base URL of a running server (admin commands)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the --config file. A missing file yields a hint at the
// example config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

// ── Logger ───────────────────────────────────────────────────────────────────

// newLogger installs a text logger on stderr as the default and returns the
// level variable so the level can follow config reloads.
func newLogger(level config.LogLevel) *slog.LevelVar {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return lvl
}
