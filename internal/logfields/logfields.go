package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeySession    = "session_id"
	KeyState      = "state"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyWorker     = "worker"
	KeyRole       = "role"
	KeyBackend    = "backend"
	KeyCommit     = "commit"
	KeyBranch     = "branch"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyCount      = "count"
	KeyExitCode   = "exit_code"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Session(id string) slog.Attr     { return slog.String(KeySession, id) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Worker(index int) slog.Attr      { return slog.Int(KeyWorker, index) }
func Role(r string) slog.Attr         { return slog.String(KeyRole, r) }
func Backend(name string) slog.Attr   { return slog.String(KeyBackend, name) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func ExitCode(c int) slog.Attr        { return slog.Int(KeyExitCode, c) }

// Commit shortens a commit hash to the usual eight characters.
func Commit(hash string) slog.Attr {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return slog.String(KeyCommit, hash)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
