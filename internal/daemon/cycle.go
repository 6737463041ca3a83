package daemon

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cifuzz/internal/backend"
	"git.home.luguber.info/inful/cifuzz/internal/build"
	"git.home.luguber.info/inful/cifuzz/internal/corpus"
	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
	"git.home.luguber.info/inful/cifuzz/internal/metrics"
	"git.home.luguber.info/inful/cifuzz/internal/mirror"
)

// RunCycle performs one update cycle: refresh the mirror, stop the session
// when the code changed, and build and launch a new session when none is
// active. It does not sleep.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	if o.State() == StateStopped {
		return ErrStopped
	}

	start := time.Now()
	defer func() { o.recorder.ObserveCycleDuration(time.Since(start)) }()

	if !o.prepared {
		if err := o.workspace.Prepare(); err != nil {
			return err
		}
		if err := o.recoverOutput(ctx); err != nil {
			return err
		}
		o.prepared = true
	}

	var res mirror.Result
	if err := o.stage(ctx, metrics.StageMirror, func() error {
		var err error
		res, err = o.mirror.Ensure(ctx)
		return err
	}); err != nil {
		return err
	}

	changed := res.Changed()
	if changed {
		o.recorder.IncMirrorChange()
		sessionID := ""
		if s, ok := o.Session(); ok {
			sessionID = s.ID
		}
		if ev, err := eventstore.NewMirrorUpdated(sessionID, eventstore.MirrorUpdated{
			Before: res.Before, After: res.After, Branch: o.config.GitBranch,
		}); err == nil {
			o.emitter.Emit(ctx, ev)
		}
	}
	if o.scriptChanged.Swap(false) && !changed {
		slog.Info("Build script changed, forcing rebuild", logfields.Path(o.config.BuildScriptPath))
		changed = true
	}

	if o.State() == StateFuzzing {
		if !changed {
			slog.Debug("Mirror unchanged, session continues", logfields.Commit(res.After))
			return nil
		}
		if err := o.stopSession(ctx, "mirror changed"); err != nil {
			return err
		}
	}

	return o.buildAndLaunch(ctx, res.After)
}

// stage runs fn and records its duration and outcome.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.recorder.ObserveStageDuration(name, time.Since(start))
	switch {
	case err == nil:
		o.recorder.IncStageResult(name, metrics.ResultSuccess)
	case ctx.Err() != nil:
		o.recorder.IncStageResult(name, metrics.ResultCanceled)
	default:
		o.recorder.IncStageResult(name, metrics.ResultFailed)
	}
	return err
}

// buildAndLaunch builds the target and starts a new session. A failed build
// leaves the orchestrator Idle.
func (o *Orchestrator) buildAndLaunch(ctx context.Context, commit string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID := uuid.NewString()
	o.setState(StateIdle)

	start := time.Now()
	err := o.stage(ctx, metrics.StageBuild, func() error { return o.builder.Build(ctx) })
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.setLastError(err)
		code, _ := build.ExitCode(err)
		if ev, evErr := eventstore.NewBuildFailed(sessionID, commit, code, err, elapsed); evErr == nil {
			o.emitter.Emit(ctx, ev)
		}
		return err
	}
	if ev, err := eventstore.NewBuildSucceeded(sessionID, commit, elapsed); err == nil {
		o.emitter.Emit(ctx, ev)
	}

	if _, err := o.workspace.ArchiveOutput(); err != nil {
		return err
	}

	count := o.config.NumberOfCPUs
	var handles int
	if err := o.stage(ctx, metrics.StageLaunch, func() error {
		hs, err := o.pool.LaunchAll(o.backend, count)
		handles = len(hs)
		return err
	}); err != nil {
		return err
	}

	o.setSession(&Session{ID: sessionID, Started: time.Now(), Workers: handles, Commit: commit})
	o.setLastError(nil)
	o.setState(StateFuzzing)
	o.recorder.IncSessionStarted()
	o.recorder.SetActiveWorkers(handles)
	slog.Info("Fuzzing session started",
		logfields.Session(sessionID),
		logfields.Backend(string(o.backend.Name())),
		logfields.Count(handles),
		logfields.Commit(commit))
	if ev, err := eventstore.NewSessionStarted(sessionID, eventstore.SessionStarted{
		Backend: string(o.backend.Name()), Workers: handles, Commit: commit,
	}); err == nil {
		o.emitter.Emit(ctx, ev)
	}
	return nil
}

// stopSession terminates every worker, waits for them to exit and merges
// their discoveries into the input corpus. A stop request arriving meanwhile
// does not interrupt it.
func (o *Orchestrator) stopSession(ctx context.Context, reason string) error {
	ctx = context.WithoutCancel(ctx)
	s, _ := o.Session()
	slog.Info("Stopping fuzzing session", logfields.Session(s.ID), slog.String("reason", reason))

	o.pool.StopAll()
	killed := o.pool.Wait(o.config.StopGracePeriod)
	if killed > 0 {
		slog.Warn("Workers ignored SIGTERM and were killed", logfields.Count(killed))
	}
	o.setSession(nil)
	o.setState(StateIdle)
	o.recorder.SetActiveWorkers(0)
	if ev, err := eventstore.NewSessionStopped(s.ID, reason, killed); err == nil {
		o.emitter.Emit(ctx, ev)
	}

	return o.syncCorpus(ctx, s.ID, o.backend, s.Workers)
}

func (o *Orchestrator) syncCorpus(ctx context.Context, sessionID string, loc corpus.Locator, workers int) error {
	start := time.Now()
	var copied int
	if err := o.stage(ctx, metrics.StageSync, func() error {
		var err error
		copied, err = o.syncer.Sync(ctx, loc, workers, o.workspace.InputsDir())
		return err
	}); err != nil {
		return err
	}
	elapsed := time.Since(start)

	size, err := corpus.Size(o.workspace.InputsDir())
	if err != nil {
		slog.Warn("Failed to count corpus", logfields.Error(err))
	}
	o.recorder.AddCorpusCopied(copied)
	o.recorder.SetCorpusSize(size)
	slog.Debug("Corpus synced",
		logfields.Session(sessionID),
		logfields.Count(copied),
		slog.Int("corpus_size", size),
		logfields.DurationMS(float64(elapsed.Milliseconds())))
	if ev, err := eventstore.NewCorpusSynced(sessionID, copied, size, elapsed); err == nil {
		o.emitter.Emit(ctx, ev)
	}
	return nil
}

// recoverOutput harvests queues left behind by a previous run that did not
// shut down cleanly, before the output directory is archived.
func (o *Orchestrator) recoverOutput(ctx context.Context) error {
	var queues []string
	seen := make(map[string]bool)
	for i := range o.config.NumberOfCPUs {
		q := o.backend.OutputQueuePath(i)
		if seen[q] {
			continue
		}
		seen[q] = true
		if entries, err := os.ReadDir(q); err == nil && len(entries) > 0 {
			queues = append(queues, q)
		}
	}
	if len(queues) == 0 {
		return nil
	}
	slog.Info("Recovering corpus from previous run", logfields.Count(len(queues)))
	return o.syncCorpus(ctx, "", leftovers{Backend: o.backend, queues: queues}, len(queues))
}

// leftovers locates only the queues that exist on disk.
type leftovers struct {
	backend.Backend
	queues []string
}

func (l leftovers) OutputQueuePath(index int) string { return l.queues[index] }
