package backend

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/worker"
	"git.home.luguber.info/inful/cifuzz/internal/workspace"
)

// Backend is a fuzzing engine variant.
type Backend interface {
	worker.Launcher
	// Name returns the canonical engine name.
	Name() config.FuzzBackend
	// OutputQueuePath is the directory holding worker index's discoveries.
	OutputQueuePath(index int) string
	// KeepQueueEntry reports whether the file at rel (relative to a queue
	// path) should be harvested into the corpus.
	KeepQueueEntry(rel string) bool
	// Check verifies that the engine executable can be started.
	Check() error
}

// New returns the variant selected by cfg.FuzzBackend. Names outside the
// allow-list are rejected with a ConfigurationError.
func New(cfg *config.Config) (Backend, error) {
	s, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}
	switch config.NormalizeBackend(string(cfg.FuzzBackend)) {
	case config.BackendAFL:
		return &AFL{settings: s}, nil
	case config.BackendLibFuzzer:
		return &LibFuzzer{settings: s}, nil
	default:
		return nil, foundationerrors.ConfigurationError(fmt.Sprintf("unsupported fuzz backend %q", cfg.FuzzBackend)).
			WithContext("field", "fuzzBackend").
			Build()
	}
}

// settings is the launch configuration shared by all variants.
type settings struct {
	workDir    string
	outputDir  string
	crashDir   string
	inputsDir  string
	target     string
	targetArgs []string
	flags      []string
	stdout     io.Writer
	stderr     io.Writer
}

func newSettings(cfg *config.Config) (settings, error) {
	flags, err := splitWords("fuzzFlags", cfg.FuzzFlags)
	if err != nil {
		return settings{}, err
	}
	targetArgs, err := splitWords("fuzzTargetArgs", cfg.FuzzTargetArgs)
	if err != nil {
		return settings{}, err
	}
	// Engines run with workDir as their working directory, so every path handed
	// to them must be absolute.
	workDir, inputsDir, clonePath := absPath(cfg.WorkDirPath), absPath(cfg.InputsDirPath), absPath(cfg.ClonePath)
	s := settings{
		workDir:    workDir,
		outputDir:  workspace.OutputDir(workDir),
		crashDir:   workspace.CrashDir(workDir),
		inputsDir:  inputsDir,
		target:     filepath.Join(clonePath, cfg.FuzzTarget),
		targetArgs: targetArgs,
		flags:      flags,
	}
	if cfg.Debug {
		s.stdout, s.stderr = os.Stdout, os.Stderr
	}
	return s, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func splitWords(field, raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	words, err := shellwords.Parse(raw)
	if err != nil {
		return nil, foundationerrors.ConfigurationError(fmt.Sprintf("cannot split %s: %v", field, err)).
			WithContext("field", field).
			Build()
	}
	return words, nil
}

func (s settings) command(bin string, args []string, env []string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	return cmd
}

func unavailable(bin string, err error) error {
	return foundationerrors.BackendUnavailable(fmt.Sprintf("fuzzing executable %s is not available", bin)).
		WithCause(err).
		WithContext("step", "launch").
		WithContext("executable", bin).
		Build()
}

// envDefaults returns KEY=VALUE pairs for keys not already set in the
// environment.
func envDefaults(pairs ...string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		key, _, _ := strings.Cut(p, "=")
		if _, set := os.LookupEnv(key); set {
			continue
		}
		out = append(out, p)
	}
	return out
}

// isHidden reports whether any element of rel starts with a dot.
func isHidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
