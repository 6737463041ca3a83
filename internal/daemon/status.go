package daemon

import (
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/version"
)

// WorkerStatus describes one worker of the active session.
type WorkerStatus struct {
	Index   int       `json:"index"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	PID     int       `json:"pid"`
	Running bool      `json:"running"`
	Started time.Time `json:"started"`
}

// StatusSnapshot is a point-in-time view of the daemon.
type StatusSnapshot struct {
	State          State          `json:"state"`
	Version        string         `json:"version"`
	Backend        string         `json:"backend"`
	StartTime      time.Time      `json:"start_time"`
	Uptime         string         `json:"uptime"`
	Session        *Session       `json:"session,omitempty"`
	Workers        []WorkerStatus `json:"workers"`
	RunningWorkers int            `json:"running_workers"`
	CorpusSize     int            `json:"corpus_size"`
	LastError      string         `json:"last_error,omitempty"`
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() StatusSnapshot {
	snap := StatusSnapshot{
		State:      o.State(),
		Version:    version.Version,
		Backend:    string(o.backend.Name()),
		StartTime:  o.startTime,
		CorpusSize: corpusSize(o.workspace.InputsDir()),
	}
	if !o.startTime.IsZero() {
		snap.Uptime = time.Since(o.startTime).Round(time.Second).String()
	}
	if s, ok := o.Session(); ok {
		snap.Session = &s
	}
	for _, h := range o.pool.Handles() {
		running := !h.Exited()
		if running {
			snap.RunningWorkers++
		}
		snap.Workers = append(snap.Workers, WorkerStatus{
			Index:   h.Index,
			Name:    h.Name,
			Role:    h.Role.String(),
			PID:     h.PID(),
			Running: running,
			Started: h.Started,
		})
	}
	o.mu.RLock()
	if o.lastErr != nil {
		snap.LastError = o.lastErr.Error()
	}
	o.mu.RUnlock()
	return snap
}
