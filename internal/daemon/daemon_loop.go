package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Run executes cycles until ctx is cancelled, Stop is called or a fatal
// error occurs. A build failure only aborts its cycle. On return the active
// session, if any, has been stopped and synced and the state is Stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.serve(ctx, false)
}

// RunOnce executes a single cycle and then shuts down as Run does.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	return o.serve(ctx, true)
}

func (o *Orchestrator) serve(ctx context.Context, once bool) (err error) {
	if o.State() == StateStopped {
		return ErrStopped
	}
	o.startTime = time.Now()
	ctx, cancel := o.stopAwareContext(ctx)
	defer cancel()

	slog.Info("Starting cifuzz daemon",
		logfields.URL(o.config.GitURL),
		logfields.Branch(o.config.GitBranch),
		logfields.Backend(string(o.backend.Name())),
		slog.Int("workers", o.config.NumberOfCPUs),
		slog.Duration("update_interval", o.config.UpdateInterval))

	defer func() { err = o.shutdown(ctx, err) }()

	o.startBackground(ctx)

	for {
		cycleErr := o.RunCycle(ctx)
		switch {
		case cycleErr == nil:
		case ctx.Err() != nil && errors.Is(cycleErr, ctx.Err()):
			return nil
		case foundationerrors.GetRetryStrategy(cycleErr) == foundationerrors.RetryNextCycle:
			slog.Error("Cycle failed, retrying after the update interval", logfields.Error(cycleErr))
		default:
			return cycleErr
		}
		if once || !o.sleep(ctx, o.config.UpdateInterval) {
			return nil
		}
	}
}

// sleep waits for d and reports false when ctx ended first.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) startBackground(ctx context.Context) {
	if err := o.scheduler.ScheduleStatus(o.config.StatusInterval, o.reportStatus); err != nil {
		slog.Warn("Failed to schedule status job", logfields.Error(err))
	} else {
		o.scheduler.Start()
	}
	if o.scriptWatcher != nil {
		if err := o.scriptWatcher.Start(ctx); err != nil {
			slog.Warn("Failed to watch build script", logfields.Path(o.config.BuildScriptPath), logfields.Error(err))
		}
	}
	if o.httpServer != nil {
		o.workers.Go(func() {
			if err := o.httpServer.ListenAndServe(); err != nil {
				slog.Error("Metrics server failed", logfields.Error(err))
			}
		})
	}
}

// shutdown performs the terminal transition. It stops and syncs the active
// session on a context detached from cancellation so that a stop request
// never loses discovered inputs.
func (o *Orchestrator) shutdown(ctx context.Context, runErr error) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	reason := "stop requested"
	if runErr != nil {
		reason = "fatal error"
	} else if ctx.Err() == nil {
		reason = "single cycle completed"
	}

	bg := context.WithoutCancel(ctx)
	if o.State() == StateFuzzing {
		if err := o.stopSession(bg, reason); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	o.setState(StateStopped)
	if killed := o.pool.Wait(o.config.StopGracePeriod); killed > 0 {
		slog.Warn("Workers ignored SIGTERM and were killed", logfields.Count(killed))
	}

	if o.scriptWatcher != nil {
		o.scriptWatcher.Stop()
	}
	if err := o.scheduler.Stop(); err != nil {
		slog.Warn("Failed to stop scheduler", logfields.Error(err))
	}
	if o.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(bg, 5*time.Second)
		if err := o.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to stop metrics server", logfields.Error(err))
		}
		cancel()
	}
	if err := o.workers.StopAndWait(bg); err != nil {
		slog.Warn("Background workers did not exit", logfields.Error(err))
	}

	if ev, err := eventstore.NewDaemonStopped(reason, runErr); err == nil {
		o.emitter.Emit(bg, ev)
	}

	if runErr != nil {
		o.setLastError(runErr)
	}

	if runErr != nil {
		return fmt.Errorf("daemon stopped: %w", runErr)
	}
	slog.Info("cifuzz daemon stopped", slog.Duration("uptime", time.Since(o.startTime)))
	return nil
}
