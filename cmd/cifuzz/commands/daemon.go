package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	"git.home.luguber.info/inful/cifuzz/internal/daemon"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Config string `arg:"" type:"path" help:"Path to the configuration file"`
	Once   bool   `help:"Run a single update cycle, then stop the session and exit"`
}

func (d *DaemonCmd) Run(g *Global) error {
	cfg, err := loadConfig(g, d.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunDaemon(ctx, cfg, d.Once)
}

// RunDaemon runs the orchestrator until ctx is cancelled. Cancelling ctx is
// the stop request; RunDaemon returns after the session has been synced.
func RunDaemon(ctx context.Context, cfg *config.Config, once bool) error {
	orch, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := orch.Close(); cerr != nil {
			slog.Warn("Failed to close event sinks", logfields.Error(cerr))
		}
	}()

	if once {
		return orch.RunOnce(ctx)
	}
	return orch.Run(ctx)
}
