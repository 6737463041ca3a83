package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Session status values.
const (
	SessionStatusBuilding    = "building"
	SessionStatusRunning     = "running"
	SessionStatusStopped     = "stopped"
	SessionStatusBuildFailed = "build_failed"
)

// SessionSummary is a read model summarizing one fuzzing session.
type SessionSummary struct {
	SessionID     string        `json:"session_id"`
	Status        string        `json:"status"`
	Commit        string        `json:"commit,omitempty"`
	Backend       string        `json:"backend,omitempty"`
	Workers       int           `json:"workers"`
	FirstSeen     time.Time     `json:"first_seen"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	StoppedAt     *time.Time    `json:"stopped_at,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	BuildDuration time.Duration `json:"build_duration,omitempty"`
	BuildExitCode int           `json:"build_exit_code,omitempty"`
	StopReason    string        `json:"stop_reason,omitempty"`
	Killed        int           `json:"killed,omitempty"`
	CorpusAdded   int           `json:"corpus_added"`
	CorpusSize    int           `json:"corpus_size,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// SessionHistoryProjection maintains an in-memory view of session history,
// reconstructed from events stored in the event store.
type SessionHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*SessionSummary
	history  []*SessionSummary // newest first
	maxSize  int
	lastSync time.Time
}

// NewSessionHistoryProjection creates a new projection backed by the given store.
func NewSessionHistoryProjection(store Store, maxHistorySize int) *SessionHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &SessionHistoryProjection{
		store:    store,
		sessions: make(map[string]*SessionSummary),
		maxSize:  maxHistorySize,
	}
}

// Rebuild reconstructs the projection from the events recorded since since.
func (p *SessionHistoryProjection) Rebuild(ctx context.Context, since time.Time) error {
	events, err := p.store.GetRange(ctx, since, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = make(map[string]*SessionSummary)
	p.history = nil
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *SessionHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *SessionHistoryProjection) applyEventLocked(event Event) {
	id := event.SessionID()
	if id == "" {
		return
	}

	summary, exists := p.sessions[id]
	if !exists {
		summary = &SessionSummary{SessionID: id, Status: SessionStatusBuilding, FirstSeen: event.Timestamp()}
		p.sessions[id] = summary
		p.addToHistoryLocked(summary)
	}

	switch event.Type() {
	case TypeBuildSucceeded:
		var payload BuildSucceeded
		if Decode(event, &payload) == nil {
			summary.Commit = payload.Commit
			summary.BuildDuration = time.Duration(payload.DurationMS) * time.Millisecond
		}

	case TypeBuildFailed:
		summary.Status = SessionStatusBuildFailed
		var payload BuildFailed
		if Decode(event, &payload) == nil {
			summary.Commit = payload.Commit
			summary.BuildExitCode = payload.ExitCode
			summary.ErrorMessage = payload.Error
			summary.BuildDuration = time.Duration(payload.DurationMS) * time.Millisecond
		}

	case TypeSessionStarted:
		ts := event.Timestamp()
		summary.StartedAt = &ts
		summary.Status = SessionStatusRunning
		var payload SessionStarted
		if Decode(event, &payload) == nil {
			summary.Backend = payload.Backend
			summary.Workers = payload.Workers
			if payload.Commit != "" {
				summary.Commit = payload.Commit
			}
		}

	case TypeSessionStopped:
		ts := event.Timestamp()
		summary.StoppedAt = &ts
		summary.Status = SessionStatusStopped
		if summary.StartedAt != nil {
			summary.Duration = ts.Sub(*summary.StartedAt)
		}
		var payload SessionStopped
		if Decode(event, &payload) == nil {
			summary.StopReason = payload.Reason
			summary.Killed = payload.Killed
		}

	case TypeCorpusSynced:
		var payload CorpusSynced
		if Decode(event, &payload) == nil {
			summary.CorpusAdded += payload.Copied
			summary.CorpusSize = payload.CorpusSize
		}
	}
}

// addToHistoryLocked inserts summary keeping newest first and bounds the
// history, forgetting the oldest sessions.
func (p *SessionHistoryProjection) addToHistoryLocked(summary *SessionSummary) {
	p.history = append(p.history, summary)
	sort.SliceStable(p.history, func(i, j int) bool {
		return p.history[i].FirstSeen.After(p.history[j].FirstSeen)
	})
	for len(p.history) > p.maxSize {
		oldest := p.history[len(p.history)-1]
		p.history = p.history[:len(p.history)-1]
		delete(p.sessions, oldest.SessionID)
	}
}

// GetHistory returns copies of the session summaries, newest first.
func (p *SessionHistoryProjection) GetHistory() []SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]SessionSummary, len(p.history))
	for i, s := range p.history {
		result[i] = *s
	}
	return result
}

// GetSession returns the summary for a specific session.
func (p *SessionHistoryProjection) GetSession(sessionID string) (SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.sessions[sessionID]
	if !exists {
		return SessionSummary{}, false
	}
	return *summary, true
}

// GetActiveSession returns the running session, if any.
func (p *SessionHistoryProjection) GetActiveSession() (SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, summary := range p.history {
		if summary.Status == SessionStatusRunning {
			return *summary, true
		}
	}
	return SessionSummary{}, false
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *SessionHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
