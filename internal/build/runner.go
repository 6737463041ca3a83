package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// ScriptName is the file name the build script is copied to inside the mirror.
const ScriptName = ".cifuzz-build.sh"

// outputWaitDelay bounds how long Build waits for script output after the
// script exited. Daemons started by the script may keep the pipes open.
const outputWaitDelay = 2 * time.Second

// ExitError carries the exit status of a failed build. Code is -1 when the
// script could not be started at all.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("build script could not run: %v", e.Err)
	}
	return fmt.Sprintf("build script exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the build exit status from err.
func ExitCode(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// Runner executes the build script with the mirror root as working directory.
type Runner struct {
	scriptPath string
	dir        string
	stdout     io.Writer
	stderr     io.Writer
}

// NewRunner creates a runner for the configured script and mirror. Script
// output is forwarded only in debug mode.
func NewRunner(cfg *config.Config) *Runner {
	r := &Runner{scriptPath: cfg.BuildScriptPath, dir: cfg.ClonePath}
	if cfg.Debug {
		r.stdout, r.stderr = os.Stdout, os.Stderr
	}
	return r
}

// WithOutput redirects script output (fluent helper).
func (r *Runner) WithOutput(stdout, stderr io.Writer) *Runner {
	r.stdout, r.stderr = stdout, stderr
	return r
}

// Build copies the script into the mirror, marks it executable, runs it and
// waits for completion. Any failure is a BuildError wrapping an *ExitError.
func (r *Runner) Build(ctx context.Context) error {
	start := time.Now()
	dst := filepath.Join(r.dir, ScriptName)
	if err := installScript(r.scriptPath, dst); err != nil {
		return r.buildError(&ExitError{Code: -1, Err: err})
	}

	slog.Info("Building target", logfields.Path(r.dir))
	cmd := exec.CommandContext(ctx, dst)
	cmd.Dir = r.dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	cmd.WaitDelay = outputWaitDelay

	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.Warn("Build script left processes holding its output open", logfields.Path(r.dir))
		err = nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return r.buildError(&ExitError{Code: exitErr.ExitCode(), Err: err})
		}
		return r.buildError(&ExitError{Code: -1, Err: err})
	}

	slog.Info("Build succeeded", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func (r *Runner) buildError(ee *ExitError) error {
	return foundationerrors.BuildError(ee.Error()).
		WithCause(ee).
		WithContext("step", "build").
		WithContext("script", r.scriptPath).
		WithContext("exit_code", ee.Code).
		Build()
}

// installScript copies src to dst with mode 0755.
func installScript(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open build script: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy build script: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	// OpenFile honours the umask; the script must be executable regardless.
	return os.Chmod(dst, 0o755)
}
