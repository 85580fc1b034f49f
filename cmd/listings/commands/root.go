// Package commands implements the listings CLI.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-listings/engine/config"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logFormat  string
	logLevel   string
	log        *slog.Logger
}

// NewRoot builds the command tree.
func NewRoot() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "listings",
		Short:         "Scrapes vehicle listings from dealership websites.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(g.logFormat, g.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			g.log = log
			slog.SetDefault(log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "dealers.json5", "dealer configuration (JSON5); <name>.local.json5 is merged on top")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(g),
		newServeCmd(g),
		newProfilesCmd(g),
		newClassifyCmd(g),
		newWatchCmd(g),
		newComparablesCmd(g),
	)
	return root
}

func newLogger(format, level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}
}

// loadConfig reads the configuration, falling back to defaults when no
// file exists, and warns about anything suspicious in it.
func (g *globals) loadConfig() (config.File, error) {
	cfg, err := config.Load(g.configPath, g.log)
	if errors.Is(err, os.ErrNotExist) {
		g.log.Warn("no configuration found, using defaults", "path", g.configPath)
		return config.Default(), nil
	}
	if err != nil {
		return cfg, err
	}
	for _, p := range cfg.Problems() {
		g.log.Warn("config: " + p)
	}
	return cfg, nil
}
