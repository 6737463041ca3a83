package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// PlaceholderSeedName is written into an empty input corpus.
const PlaceholderSeedName = "placeholder-seed"

// OutputDir is where engines write their per-worker state.
func OutputDir(workDir string) string { return filepath.Join(workDir, "output") }

// CrashDir collects crashing inputs for engines that take an artifact prefix.
func CrashDir(workDir string) string { return filepath.Join(workDir, "crashes") }

// ArchiveDir holds the outputs of finished sessions.
func ArchiveDir(workDir string) string { return filepath.Join(workDir, "archive") }

// Manager handles the persistent working directory of the daemon.
type Manager struct {
	workDir   string
	inputsDir string
	now       func() time.Time
}

// NewManager creates a workspace manager for the configured directories.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{workDir: cfg.WorkDirPath, inputsDir: cfg.InputsDirPath, now: time.Now}
}

// InputsDir returns the input corpus directory.
func (m *Manager) InputsDir() string { return m.inputsDir }

// OutputDir returns the engine output directory.
func (m *Manager) OutputDir() string { return OutputDir(m.workDir) }

// Prepare creates the working, output, crash and input directories. An empty
// input corpus receives a single placeholder seed because both engines refuse
// to start without one.
func (m *Manager) Prepare() error {
	for _, dir := range []string{m.workDir, OutputDir(m.workDir), CrashDir(m.workDir), m.inputsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fsError("failed to create workspace directory", dir, err)
		}
	}

	empty, err := isEmpty(m.inputsDir)
	if err != nil {
		return fsError("failed to read input directory", m.inputsDir, err)
	}
	if empty {
		seed := filepath.Join(m.inputsDir, PlaceholderSeedName)
		if err := os.WriteFile(seed, []byte("cifuzz\n"), 0o644); err != nil { //nolint:gosec // corpus files are shared with the engines
			return fsError("failed to write placeholder seed", seed, err)
		}
		slog.Info("Input corpus empty, wrote placeholder seed", logfields.Path(seed))
	}
	slog.Debug("Workspace prepared", logfields.Path(m.workDir))
	return nil
}

// ArchiveOutput moves a non-empty output directory into a timestamped
// archive directory and recreates it empty, so that the next session starts
// fresh. It returns the archive path, or "" when there was nothing to move.
func (m *Manager) ArchiveOutput() (string, error) {
	out := OutputDir(m.workDir)
	empty, err := isEmpty(out)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && empty) {
		return "", os.MkdirAll(out, 0o750)
	}
	if err != nil {
		return "", fsError("failed to read output directory", out, err)
	}

	archiveRoot := ArchiveDir(m.workDir)
	if err := os.MkdirAll(archiveRoot, 0o750); err != nil {
		return "", fsError("failed to create archive directory", archiveRoot, err)
	}
	dst := m.uniqueArchivePath(archiveRoot)
	if err := os.Rename(out, dst); err != nil {
		return "", fsError("failed to archive output directory", out, err)
	}
	if err := os.MkdirAll(out, 0o750); err != nil {
		return "", fsError("failed to recreate output directory", out, err)
	}
	slog.Info("Archived session output", logfields.Path(dst))
	return dst, nil
}

func (m *Manager) uniqueArchivePath(root string) string {
	base := filepath.Join(root, "session-"+m.now().Format("20060102-150405"))
	p := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			return p
		}
		p = fmt.Sprintf("%s-%d", base, i)
	}
}

func isEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return len(names) == 0, err
}

func fsError(msg, path string, err error) error {
	return foundationerrors.FileSystemError(msg).
		WithCause(err).
		WithContext("step", "workspace").
		WithContext("path", path).
		Build()
}
