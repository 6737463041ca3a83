package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

// Event type names.
const (
	TypeMirrorUpdated  = "mirror_updated"
	TypeBuildSucceeded = "build_succeeded"
	TypeBuildFailed    = "build_failed"
	TypeSessionStarted = "session_started"
	TypeSessionStopped = "session_stopped"
	TypeCorpusSynced   = "corpus_synced"
	TypeDaemonStopped  = "daemon_stopped"
)

// MirrorUpdated is the payload of mirror_updated.
type MirrorUpdated struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after"`
	Branch string `json:"branch"`
}

// BuildSucceeded is the payload of build_succeeded.
type BuildSucceeded struct {
	Commit     string `json:"commit,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// BuildFailed is the payload of build_failed.
type BuildFailed struct {
	Commit     string `json:"commit,omitempty"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

// SessionStarted is the payload of session_started.
type SessionStarted struct {
	Backend string `json:"backend"`
	Workers int    `json:"workers"`
	Commit  string `json:"commit,omitempty"`
}

// SessionStopped is the payload of session_stopped.
type SessionStopped struct {
	Reason string `json:"reason"`
	Killed int    `json:"killed"`
}

// CorpusSynced is the payload of corpus_synced.
type CorpusSynced struct {
	Copied     int   `json:"copied"`
	CorpusSize int   `json:"corpus_size"`
	DurationMS int64 `json:"duration_ms"`
}

// DaemonStopped is the payload of daemon_stopped.
type DaemonStopped struct {
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// New creates an event of the given type with payload encoded as JSON.
func New(sessionID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal event payload").
			WithCause(err).
			WithContext("event_type", eventType).
			WithContext("session_id", sessionID).
			Build()
	}
	return &BaseEvent{
		EventSessionID: sessionID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// Decode unmarshals the payload of e into v.
func Decode(e Event, v any) error {
	if err := json.Unmarshal(e.Payload(), v); err != nil {
		return errors.EventStoreError("failed to unmarshal event payload").
			WithCause(err).
			WithContext("event_type", e.Type()).
			Build()
	}
	return nil
}

// NewMirrorUpdated creates a mirror_updated event.
func NewMirrorUpdated(sessionID string, p MirrorUpdated) (*BaseEvent, error) {
	return New(sessionID, TypeMirrorUpdated, p)
}

// NewBuildSucceeded creates a build_succeeded event.
func NewBuildSucceeded(sessionID, commit string, d time.Duration) (*BaseEvent, error) {
	return New(sessionID, TypeBuildSucceeded, BuildSucceeded{Commit: commit, DurationMS: d.Milliseconds()})
}

// NewBuildFailed creates a build_failed event.
func NewBuildFailed(sessionID, commit string, exitCode int, cause error, d time.Duration) (*BaseEvent, error) {
	p := BuildFailed{Commit: commit, ExitCode: exitCode, DurationMS: d.Milliseconds()}
	if cause != nil {
		p.Error = cause.Error()
	}
	return New(sessionID, TypeBuildFailed, p)
}

// NewSessionStarted creates a session_started event.
func NewSessionStarted(sessionID string, p SessionStarted) (*BaseEvent, error) {
	return New(sessionID, TypeSessionStarted, p)
}

// NewSessionStopped creates a session_stopped event.
func NewSessionStopped(sessionID, reason string, killed int) (*BaseEvent, error) {
	return New(sessionID, TypeSessionStopped, SessionStopped{Reason: reason, Killed: killed})
}

// NewCorpusSynced creates a corpus_synced event.
func NewCorpusSynced(sessionID string, copied, corpusSize int, d time.Duration) (*BaseEvent, error) {
	return New(sessionID, TypeCorpusSynced, CorpusSynced{Copied: copied, CorpusSize: corpusSize, DurationMS: d.Milliseconds()})
}

// NewDaemonStopped creates a daemon_stopped event.
func NewDaemonStopped(reason string, cause error) (*BaseEvent, error) {
	p := DaemonStopped{Reason: reason}
	if cause != nil {
		p.Error = cause.Error()
	}
	return New("", TypeDaemonStopped, p)
}
