package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Role distinguishes the coordinating instance from the others for engines
// that need it.
type Role int

const (
	RoleNone Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Handle is a running fuzzing process.
type Handle struct {
	Index   int
	Role    Role
	Name    string
	Started time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopping atomic.Bool
}

// Start starts cmd and returns a handle whose Done channel closes once the
// process has been reaped.
func Start(index int, role Role, name string, cmd *exec.Cmd) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", index, err)
	}
	h := &Handle{Index: index, Role: role, Name: name, Started: time.Now(), cmd: cmd, done: make(chan struct{})}
	slog.Debug("Worker started", logfields.Worker(index), logfields.Role(role.String()), slog.Int("pid", cmd.Process.Pid), slog.String("command", cmd.String()))
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	h.err = h.cmd.Wait()
	close(h.done)
	if !h.stopping.Load() {
		slog.Warn("Worker exited unexpectedly", logfields.Worker(h.Index), logfields.Role(h.Role.String()), logfields.Error(h.err))
		return
	}
	slog.Debug("Worker exited", logfields.Worker(h.Index))
}

// PID returns the process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the process exit error. Only meaningful once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop asks the process to terminate without waiting for it.
func (h *Handle) Stop() error {
	h.stopping.Store(true)
	if h.Exited() {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal worker %d: %w", h.Index, err)
	}
	return nil
}

// Wait blocks until the process exits or grace elapses, in which case the
// process is killed. It reports whether a kill was needed.
func (h *Handle) Wait(grace time.Duration) bool {
	if h.Exited() {
		return false
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return false
	case <-timer.C:
	}
	h.stopping.Store(true)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("Failed to kill worker", logfields.Worker(h.Index), logfields.Error(err))
	}
	<-h.done
	return true
}
