// Package commands implements the cifuzz command tree.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/cifuzz/internal/config"
)

// Global carries state shared by every command.
type Global struct {
	Level *slog.LevelVar
	Out   io.Writer
}

// NewGlobal returns the defaults used by main.
func NewGlobal() *Global {
	return &Global{Level: new(slog.LevelVar), Out: os.Stdout}
}

// CLI definition & global flags.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" default:"withargs" help:"Run the continuous fuzzing daemon (default command)"`
	Check   CheckCmd   `cmd:"" help:"Validate a configuration and the fuzzing toolchain"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
	History HistoryCmd `cmd:"" help:"Show journaled daemon events"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	if c.Verbose {
		g.Level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: g.Level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads path and raises the log level when the configuration
// asks for debug output.
func loadConfig(g *Global, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		g.Level.Set(slog.LevelDebug)
	}
	return cfg, nil
}
