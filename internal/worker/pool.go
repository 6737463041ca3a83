package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// ErrSessionActive is returned by LaunchAll while workers are still registered.
var ErrSessionActive = errors.New("worker session already active")

// Launcher starts the worker with the given index out of count.
type Launcher interface {
	Launch(index, count int) (*Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(index, count int) (*Handle, error)

// Launch calls f.
func (f LauncherFunc) Launch(index, count int) (*Handle, error) { return f(index, count) }

// Pool owns the handles of the current session.
type Pool struct {
	mu       sync.Mutex
	handles  map[int]*Handle
	stopping []*Handle
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{handles: make(map[int]*Handle)}
}

// LaunchAll starts count workers with indices 0..count-1. When launch i fails
// the workers already started are stopped and the pool is left empty.
func (p *Pool) LaunchAll(l Launcher, count int) ([]*Handle, error) {
	if count < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", count)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) > 0 {
		return nil, ErrSessionActive
	}

	started := make([]*Handle, 0, count)
	for i := range count {
		h, err := l.Launch(i, count)
		if err != nil {
			for _, s := range started {
				p.stopLocked(s)
			}
			clear(p.handles)
			return nil, fmt.Errorf("launch worker %d of %d: %w", i, count, err)
		}
		p.handles[i] = h
		started = append(started, h)
		slog.Info("Worker launched", logfields.Worker(i), logfields.Role(h.Role.String()), slog.String("name", h.Name))
	}
	return started, nil
}

// StopAll signals every registered worker to terminate and empties the pool
// without waiting. It is a no-op on an empty pool.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return
	}
	for _, idx := range sortedKeys(p.handles) {
		p.stopLocked(p.handles[idx])
	}
	slog.Info("Workers signalled to stop", logfields.Count(len(p.handles)))
	clear(p.handles)
}

func (p *Pool) stopLocked(h *Handle) {
	if err := h.Stop(); err != nil {
		slog.Warn("Failed to stop worker", logfields.Worker(h.Index), logfields.Error(err))
	}
	p.stopping = append(p.stopping, h)
}

// Wait waits up to grace for the workers signalled by StopAll (or a failed
// LaunchAll) to exit, killing the remainder. It returns how many were killed.
func (p *Pool) Wait(grace time.Duration) int {
	p.mu.Lock()
	pending := p.stopping
	p.stopping = nil
	p.mu.Unlock()

	deadline := time.Now().Add(grace)
	killed := 0
	for _, h := range pending {
		if h.Wait(max(time.Until(deadline), 0)) {
			killed++
			slog.Warn("Worker killed after grace period", logfields.Worker(h.Index), slog.Duration("grace", grace))
		}
	}
	return killed
}

// Handles returns a snapshot of the registered handles sorted by index.
func (p *Pool) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle, 0, len(p.handles))
	for _, idx := range sortedKeys(p.handles) {
		out = append(out, p.handles[idx])
	}
	return out
}

func sortedKeys(m map[int]*Handle) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
