package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

func newRunner(t *testing.T, script string) (*Runner, string) {
	t.Helper()
	tmp := t.TempDir()
	mirror := filepath.Join(tmp, "repo")
	require.NoError(t, os.MkdirAll(mirror, 0o750))
	scriptPath := filepath.Join(tmp, "build.sh")
	if script != "" {
		require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o600))
	}
	return NewRunner(&config.Config{BuildScriptPath: scriptPath, ClonePath: mirror}), mirror
}

func TestBuild_Success(t *testing.T) {
	r, mirror := newRunner(t, "#!/bin/sh\necho built > artifact.txt\n")

	require.NoError(t, r.Build(context.Background()))
	require.FileExists(t, filepath.Join(mirror, "artifact.txt"), "script must run inside the mirror")

	info, err := os.Stat(filepath.Join(mirror, ScriptName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestBuild_NonZeroExit(t *testing.T) {
	r, _ := newRunner(t, "#!/bin/sh\nexit 3\n")

	err := r.Build(context.Background())
	require.Error(t, err)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryBuild))

	code, ok := ExitCode(err)
	require.True(t, ok)
	require.Equal(t, 3, code)

	ce, ok := foundationerrors.AsClassified(err)
	require.True(t, ok)
	require.False(t, ce.IsFatal())
	got, ok := ce.Context().Get("exit_code")
	require.True(t, ok)
	require.Equal(t, 3, got)
	require.Equal(t, foundationerrors.RetryNextCycle, foundationerrors.GetRetryStrategy(err))
}

func TestBuild_MissingScript(t *testing.T) {
	r, _ := newRunner(t, "")

	err := r.Build(context.Background())
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryBuild))
	code, ok := ExitCode(err)
	require.True(t, ok)
	require.Equal(t, -1, code)
}

func TestBuild_OutputForwarding(t *testing.T) {
	r, _ := newRunner(t, "#!/bin/sh\necho hello\necho oops >&2\n")
	var stdout, stderr bytes.Buffer
	r.WithOutput(&stdout, &stderr)

	require.NoError(t, r.Build(context.Background()))
	require.Equal(t, "hello\n", stdout.String())
	require.Equal(t, "oops\n", stderr.String())
}

func TestBuild_ScriptReplacedEachRun(t *testing.T) {
	r, mirror := newRunner(t, "#!/bin/sh\nexit 0\n")
	require.NoError(t, r.Build(context.Background()))

	require.NoError(t, os.WriteFile(r.scriptPath, []byte("#!/bin/sh\nexit 7\n"), 0o600))
	code, ok := ExitCode(r.Build(context.Background()))
	require.True(t, ok)
	require.Equal(t, 7, code)
	require.FileExists(t, filepath.Join(mirror, ScriptName))
}

func TestBuild_BackgroundedProcessDoesNotBlock(t *testing.T) {
	const script = "#!/bin/sh\nsleep 10 &\necho built\n"

	t.Run("discarded output", func(t *testing.T) {
		r, _ := newRunner(t, script)
		start := time.Now()
		require.NoError(t, r.Build(context.Background()))
		require.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("captured output", func(t *testing.T) {
		r, _ := newRunner(t, script)
		var out bytes.Buffer
		r.WithOutput(&out, &out)
		start := time.Now()
		require.NoError(t, r.Build(context.Background()))
		require.Less(t, time.Since(start), outputWaitDelay+3*time.Second)
		require.Contains(t, out.String(), "built")
	})
}
