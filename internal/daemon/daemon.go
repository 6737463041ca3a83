// Package daemon runs the update cycle: it mirrors the repository, rebuilds
// the target when the code changes, supervises the fuzzing session and merges
// discoveries back into the input corpus.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cifuzz/internal/backend"
	"git.home.luguber.info/inful/cifuzz/internal/build"
	"git.home.luguber.info/inful/cifuzz/internal/config"
	"git.home.luguber.info/inful/cifuzz/internal/corpus"
	"git.home.luguber.info/inful/cifuzz/internal/eventbus"
	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
	"git.home.luguber.info/inful/cifuzz/internal/metrics"
	"git.home.luguber.info/inful/cifuzz/internal/mirror"
	"git.home.luguber.info/inful/cifuzz/internal/worker"
	"git.home.luguber.info/inful/cifuzz/internal/workspace"
)

// State is the orchestrator state.
type State string

const (
	StateIdle    State = "idle"
	StateFuzzing State = "fuzzing"
	StateStopped State = "stopped"
)

// ErrStopped is returned when a stopped orchestrator is asked to run.
var ErrStopped = errors.New("orchestrator stopped")

// Session is the set of workers launched together for one build.
type Session struct {
	ID      string
	Started time.Time
	Workers int
	Commit  string
}

// Orchestrator drives the mirror, build, fuzz and sync cycle.
type Orchestrator struct {
	config    *config.Config
	state     atomic.Value // State
	startTime time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once

	// cycleMu serializes cycles with the shutdown transition.
	cycleMu sync.Mutex
	mu      sync.RWMutex
	session *Session
	lastErr error

	mirror    *mirror.Mirror
	builder   *build.Runner
	backend   backend.Backend
	pool      *worker.Pool
	syncer    *corpus.Synchronizer
	workspace *workspace.Manager

	recorder metrics.Recorder
	registry *prom.Registry
	emitter  *EventEmitter
	closers  []func() error

	scheduler     *Scheduler
	scriptWatcher *ScriptWatcher
	scriptChanged atomic.Bool
	httpServer    *HTTPServer
	workers       WorkerGroup
	prepared      bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder replaces the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithSink adds an event sink.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.emitter.AddSink(s) }
}

// New wires every component for cfg. The backend is validated here so that
// an unsupported engine fails before anything is launched.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	be, err := backend.New(cfg)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    cfg,
		stopChan:  make(chan struct{}),
		mirror:    mirror.New(cfg),
		builder:   build.NewRunner(cfg),
		backend:   be,
		pool:      worker.NewPool(),
		syncer:    corpus.NewSynchronizer(),
		workspace: workspace.NewManager(cfg),
		recorder:  metrics.NoopRecorder{},
		emitter:   NewEventEmitter(),
	}
	o.state.Store(StateIdle)

	if cfg.MetricsAddr != "" {
		o.registry = prom.NewRegistry()
		o.recorder = metrics.NewPrometheusRecorder(o.registry)
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.openSinks(); err != nil {
		_ = o.Close()
		return nil, err
	}

	o.scheduler, err = NewScheduler()
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	if cfg.RebuildOnScriptChange {
		o.scriptWatcher, err = NewScriptWatcher(cfg.BuildScriptPath, o.markScriptChanged)
		if err != nil {
			_ = o.Close()
			return nil, err
		}
	}
	if cfg.MetricsAddr != "" {
		o.httpServer = NewHTTPServer(cfg.MetricsAddr, o)
	}
	return o, nil
}

// openSinks opens the event journal and NATS publisher when configured.
func (o *Orchestrator) openSinks() error {
	if path := o.config.EventStorePath; path != "" {
		store, err := eventstore.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		o.emitter.AddSink(store)
		o.closers = append(o.closers, store.Close)
		o.emitter.projection = eventstore.NewSessionHistoryProjection(store, 100)
		if err := o.emitter.projection.Rebuild(context.Background(), time.Time{}); err != nil {
			slog.Warn("Failed to rebuild session history", logfields.Error(err))
		}
	}
	if url := o.config.NATSURL; url != "" {
		bus, err := eventbus.Connect(url, o.config.NATSSubject)
		if err != nil {
			slog.Warn("NATS event bus unavailable, continuing without it", logfields.URL(url), logfields.Error(err))
			return nil
		}
		o.emitter.AddSink(bus)
		o.closers = append(o.closers, bus.Close)
	}
	return nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	s, ok := o.state.Load().(State)
	if !ok {
		return StateIdle
	}
	return s
}

func (o *Orchestrator) setState(s State) {
	prev := o.State()
	o.state.Store(s)
	if prev != s {
		slog.Info("State changed", slog.String("from", string(prev)), logfields.State(string(s)))
	}
}

// Session returns a copy of the active session, if any.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session == nil {
		return Session{}, false
	}
	return *o.session, true
}

func (o *Orchestrator) setSession(s *Session) {
	o.mu.Lock()
	o.session = s
	o.mu.Unlock()
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

// Workers returns the handles of the active session.
func (o *Orchestrator) Workers() []*worker.Handle { return o.pool.Handles() }

// History returns the session history projection, or nil when the journal
// is disabled.
func (o *Orchestrator) History() *eventstore.SessionHistoryProjection { return o.emitter.projection }

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (o *Orchestrator) Registry() *prom.Registry { return o.registry }

// Stop requests a graceful shutdown. It does not wait; Run returns once the
// session has been stopped and synced.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		slog.Info("Stop requested")
		close(o.stopChan)
	})
}

// Close stops the scheduler and the script watcher and releases the event
// sinks.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.scriptWatcher != nil {
		o.scriptWatcher.Stop()
	}
	if o.scheduler != nil {
		if err := o.scheduler.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}
