package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/cifuzz/internal/corpus"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Scheduler wraps gocron scheduler for managing periodic tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
	stopped   bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Debug("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs. Later calls are
// no-ops.
func (s *Scheduler) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.scheduler.Shutdown()
}

// ScheduleStatus runs task every interval. Overlapping runs are skipped.
func (s *Scheduler) ScheduleStatus(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("status interval must be positive, got %s", interval)
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName("status"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create status job: %w", err)
	}
	return nil
}

// reportStatus logs the daemon state and refreshes the gauges.
func (o *Orchestrator) reportStatus() {
	snap := o.Status()
	o.recorder.SetActiveWorkers(snap.RunningWorkers)
	if snap.CorpusSize >= 0 {
		o.recorder.SetCorpusSize(snap.CorpusSize)
	}

	attrs := []any{
		logfields.State(string(snap.State)),
		slog.Int("running_workers", snap.RunningWorkers),
		slog.Int("corpus_size", snap.CorpusSize),
	}
	if snap.Session != nil {
		attrs = append(attrs, logfields.Session(snap.Session.ID), logfields.Commit(snap.Session.Commit),
			slog.Duration("session_age", time.Since(snap.Session.Started).Round(time.Second)))
	}
	slog.Info("Status", attrs...)

	if snap.State == StateFuzzing && snap.RunningWorkers == 0 {
		slog.Warn("Every worker of the active session has exited; waiting for the next change")
	}
}

func corpusSize(dir string) int {
	n, err := corpus.Size(dir)
	if err != nil {
		return -1
	}
	return n
}
