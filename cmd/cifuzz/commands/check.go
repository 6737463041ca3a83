package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/backend"
	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/mirror"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct {
	Config  string        `arg:"" type:"path" help:"Path to the configuration file"`
	Remote  bool          `help:"Also verify that the remote branch is reachable"`
	Timeout time.Duration `default:"30s" help:"Timeout for the remote check"`
}

func (c *CheckCmd) Run(g *Global) error {
	cfg, err := loadConfig(g, c.Config)
	if err != nil {
		return err
	}
	out := g.Out
	_, _ = fmt.Fprintf(out, "configuration: ok (%s, %d workers, %s)\n", cfg.FuzzBackend, cfg.NumberOfCPUs, cfg.UpdateInterval)

	if fi, err := os.Stat(cfg.BuildScriptPath); err != nil || fi.IsDir() {
		return foundationerrors.ConfigurationError("build script not found").
			WithCause(err).
			WithContext("step", "check").
			WithContext("path", cfg.BuildScriptPath).
			Build()
	}
	_, _ = fmt.Fprintf(out, "build script: %s\n", cfg.BuildScriptPath)

	be, err := backend.New(cfg)
	if err != nil {
		return err
	}
	if err := be.Check(); err != nil {
		// The libFuzzer engine is the target itself, which only exists after
		// the first build.
		if be.Name() != config.BackendLibFuzzer {
			return err
		}
		_, _ = fmt.Fprintln(out, "engine: target not built yet")
	} else {
		_, _ = fmt.Fprintf(out, "engine: %s available\n", be.Name())
	}

	if c.Remote {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		head, err := mirror.New(cfg).Probe(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "remote: %s@%s is at %s\n", cfg.GitURL, cfg.GitBranch, head)
	}
	return nil
}
