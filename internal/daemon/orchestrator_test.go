package daemon

import (
	"context"
	"errors"
	"crypto/sha1" //nolint:gosec // corpus naming
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cifuzz/internal/backend"
	"git.home.luguber.info/inful/cifuzz/internal/build"
	"git.home.luguber.info/inful/cifuzz/internal/config"
	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/metrics"
	"git.home.luguber.info/inful/cifuzz/internal/worker"
	"git.home.luguber.info/inful/cifuzz/internal/workspace"
)

// fakeAFL idles like afl-fuzz after creating its queue with one discovery.
const fakeAFL = `#!/bin/sh
out=""; name=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out=$2; shift 2 ;;
    -M|-S) name=$2; shift 2 ;;
    --) break ;;
    *) shift ;;
  esac
done
mkdir -p "$out/$name/queue"
echo "$name $$" > "$out/$name/queue/.tmp-$$"
mv "$out/$name/queue/.tmp-$$" "$out/$name/queue/id:000001,src:000000"
exec sleep 60
`

// lingeringAFL behaves like fakeAFL but takes a second to exit after SIGTERM
// and marks that it received the signal.
const lingeringAFL = `#!/bin/sh
out=""; name=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out=$2; shift 2 ;;
    -M|-S) name=$2; shift 2 ;;
    --) break ;;
    *) shift ;;
  esac
done
mkdir -p "$out/$name/queue"
echo "$name $$" > "$out/$name/queue/.tmp-$$"
mv "$out/$name/queue/.tmp-$$" "$out/$name/queue/id:000001,src:000000"
trap 'touch "$out/$name/terminating"; sleep 1; exit 0' TERM
while :; do sleep 0.2; done
`

// remote is a bare repository fed by a seed working copy.
type remote struct {
	bare     string
	seed     *git.Repository
	seedPath string
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	tmp := t.TempDir()
	bare := filepath.Join(tmp, "remote.git")
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)

	seedPath := filepath.Join(tmp, "seed")
	seed, err := git.PlainInit(seedPath, false)
	require.NoError(t, err)
	_, err = seed.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)

	r := &remote{bare: bare, seed: seed, seedPath: seedPath}
	r.commit(t, "target.c", "int main(void) { return 0; }\n")
	return r
}

func (r *remote) commit(t *testing.T, name, content string) {
	t.Helper()
	wt, err := r.seed.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(r.seedPath, name), []byte(content), 0o600))
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("update "+name, &git.CommitOptions{Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()}})
	require.NoError(t, err)
	require.NoError(t, r.seed.Push(&git.PushOptions{RemoteName: "origin"}))
}

// recordingSink keeps every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []eventstore.Event
}

func (s *recordingSink) Publish(_ context.Context, ev eventstore.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type())
	}
	return out
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700)) //nolint:gosec // test executable
}

// installFakeAFL puts a fake afl-fuzz first on PATH.
func installFakeAFL(t *testing.T) {
	t.Helper()
	installAFLScript(t, fakeAFL)
}

func installAFLScript(t *testing.T, script string) {
	t.Helper()
	bin := t.TempDir()
	writeScript(t, filepath.Join(bin, "afl-fuzz"), script)
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testConfig(t *testing.T, r *remote, buildScript string) *config.Config {
	t.Helper()
	root := t.TempDir()
	script := filepath.Join(root, "build.sh")
	writeScript(t, script, buildScript)
	return &config.Config{
		GitURL:          r.bare,
		GitBranch:       "master",
		ClonePath:       filepath.Join(root, "repo"),
		InputsDirPath:   filepath.Join(root, "inputs"),
		WorkDirPath:     filepath.Join(root, "work"),
		BuildScriptPath: script,
		FuzzTarget:      "target",
		FuzzBackend:     config.BackendAFL,
		NumberOfCPUs:    2,
		UpdateInterval:  time.Hour,
		StopGracePeriod: 2 * time.Second,
		StatusInterval:  time.Hour,
	}
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	o, err := New(cfg, append([]Option{WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		o.pool.StopAll()
		o.pool.Wait(time.Second)
		_ = o.Close()
	})
	return o, sink
}

// waitForQueues blocks until every worker of the session published its
// first discovery.
func waitForQueues(t *testing.T, o *Orchestrator) {
	t.Helper()
	for i := range o.config.NumberOfCPUs {
		q := o.backend.OutputQueuePath(i)
		require.Eventually(t, func() bool {
			entries, err := os.ReadDir(q)
			if err != nil {
				return false
			}
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "id:") {
					return true
				}
			}
			return false
		}, 10*time.Second, 10*time.Millisecond, "queue %s never populated", q)
	}
}

func corpusNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestNew_ValidatesBackend(t *testing.T) {
	r := newRemote(t)
	for _, name := range []config.FuzzBackend{config.BackendAFL, config.BackendLibFuzzer} {
		cfg := testConfig(t, r, "#!/bin/sh\n")
		cfg.FuzzBackend = name
		o, err := New(cfg)
		require.NoError(t, err, name)
		require.Equal(t, StateIdle, o.State())
		require.NoError(t, o.Close())
	}

	cfg := testConfig(t, r, "#!/bin/sh\n")
	cfg.FuzzBackend = "honggfuzz"
	_, err := New(cfg)
	require.Error(t, err)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryConfig))
	_, statErr := os.Stat(cfg.WorkDirPath)
	require.True(t, os.IsNotExist(statErr), "nothing may be created for a rejected backend")
}

func TestRunCycle_MirrorChangeRestartsSession(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	o, sink := newOrchestrator(t, cfg)
	ctx := t.Context()

	require.NoError(t, o.RunCycle(ctx))
	require.Equal(t, StateFuzzing, o.State())
	first, ok := o.Session()
	require.True(t, ok)
	firstWorkers := o.Workers()
	require.Len(t, firstWorkers, 2)
	require.Equal(t, worker.RolePrimary, firstWorkers[0].Role)
	require.Equal(t, worker.RoleSecondary, firstWorkers[1].Role)
	waitForQueues(t, o)

	// Unchanged mirror keeps the session.
	require.NoError(t, o.RunCycle(ctx))
	same, _ := o.Session()
	require.Equal(t, first.ID, same.ID)

	r.commit(t, "target.c", "int main(void) { return 1; }\n")
	require.NoError(t, o.RunCycle(ctx))
	require.Equal(t, StateFuzzing, o.State())

	second, ok := o.Session()
	require.True(t, ok)
	require.NotEqual(t, first.ID, second.ID)
	for _, h := range firstWorkers {
		require.True(t, h.Exited(), "worker %d of the first session still running", h.Index)
	}
	require.Len(t, o.Workers(), 2)

	require.Equal(t, []string{
		eventstore.TypeMirrorUpdated,
		eventstore.TypeBuildSucceeded,
		eventstore.TypeSessionStarted,
		eventstore.TypeMirrorUpdated,
		eventstore.TypeSessionStopped,
		eventstore.TypeCorpusSynced,
		eventstore.TypeBuildSucceeded,
		eventstore.TypeSessionStarted,
	}, sink.types())

	// Placeholder seed plus one discovery per worker of the first session.
	names := corpusNames(t, cfg.InputsDirPath)
	require.Len(t, names, 3)
	require.Contains(t, names, workspace.PlaceholderSeedName)

	// The first session's output was archived before the relaunch.
	archived, err := os.ReadDir(workspace.ArchiveDir(cfg.WorkDirPath))
	require.NoError(t, err)
	require.Len(t, archived, 1)
}

// countingRecorder keeps the session gauges the cycle reports.
type countingRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	sessions int
	active   int
	changes  int
}

func (c *countingRecorder) IncSessionStarted() {
	c.mu.Lock()
	c.sessions++
	c.mu.Unlock()
}

func (c *countingRecorder) IncMirrorChange() {
	c.mu.Lock()
	c.changes++
	c.mu.Unlock()
}

func (c *countingRecorder) SetActiveWorkers(n int) {
	c.mu.Lock()
	c.active = n
	c.mu.Unlock()
}

func TestRunCycle_ReportsToRecorder(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	rec := &countingRecorder{}
	o, _ := newOrchestrator(t, cfg, WithRecorder(rec))

	require.NoError(t, o.RunCycle(t.Context()))
	waitForQueues(t, o)
	r.commit(t, "target.c", "int main(void) { return 3; }\n")
	require.NoError(t, o.RunCycle(t.Context()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 2, rec.sessions)
	require.Equal(t, 2, rec.changes, "initial clone and one update")
	require.Equal(t, cfg.NumberOfCPUs, rec.active)
}

func TestRunCycle_BuildFailureStaysIdle(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	attempts := filepath.Join(t.TempDir(), "attempts")
	cfg := testConfig(t, r, "#!/bin/sh\necho x >> \""+attempts+"\"\nexit 3\n")
	o, sink := newOrchestrator(t, cfg)

	err := o.RunCycle(t.Context())
	require.Error(t, err)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryBuild))
	code, ok := build.ExitCode(err)
	require.True(t, ok)
	require.Equal(t, 3, code)
	require.Equal(t, StateIdle, o.State())
	require.Empty(t, o.Workers())

	// The next cycle tries again although the mirror did not move.
	err = o.RunCycle(t.Context())
	require.Error(t, err)
	require.Equal(t, StateIdle, o.State())

	data, readErr := os.ReadFile(attempts)
	require.NoError(t, readErr)
	require.Equal(t, 2, strings.Count(string(data), "x"))
	require.Equal(t, []string{
		eventstore.TypeMirrorUpdated,
		eventstore.TypeBuildFailed,
		eventstore.TypeBuildFailed,
	}, sink.types())
	require.Contains(t, o.Status().LastError, "exit")
}

func TestRun_StopWhileFuzzingSyncsBeforeReturning(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	o, sink := newOrchestrator(t, cfg)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	require.Eventually(t, func() bool { return o.State() == StateFuzzing }, 10*time.Second, 10*time.Millisecond)
	workers := o.Workers()
	waitForQueues(t, o)

	o.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	require.Equal(t, StateStopped, o.State())
	for _, h := range workers {
		require.True(t, h.Exited())
	}
	require.Len(t, corpusNames(t, cfg.InputsDirPath), 3)

	types := sink.types()
	require.Equal(t, []string{
		eventstore.TypeSessionStopped,
		eventstore.TypeCorpusSynced,
		eventstore.TypeDaemonStopped,
	}, types[len(types)-3:])

	require.ErrorIs(t, o.RunCycle(t.Context()), ErrStopped)
	require.ErrorIs(t, o.Run(t.Context()), ErrStopped)
}

func TestRun_StopDuringRestartStillSyncs(t *testing.T) {
	installAFLScript(t, lingeringAFL)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	cfg.UpdateInterval = 100 * time.Millisecond
	cfg.StopGracePeriod = 5 * time.Second
	o, sink := newOrchestrator(t, cfg)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	require.Eventually(t, func() bool { return o.State() == StateFuzzing }, 10*time.Second, 10*time.Millisecond)
	waitForQueues(t, o)

	r.commit(t, "target.c", "int main(void) { return 2; }\n")
	marker := filepath.Join(workspace.OutputDir(cfg.WorkDirPath), "fuzzer00", "terminating")
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 10*time.Second, 10*time.Millisecond, "session was never asked to stop")
	o.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	require.Equal(t, StateStopped, o.State())
	require.Len(t, corpusNames(t, cfg.InputsDirPath), 3)
	types := sink.types()
	require.Equal(t, []string{
		eventstore.TypeMirrorUpdated,
		eventstore.TypeSessionStopped,
		eventstore.TypeCorpusSynced,
		eventstore.TypeDaemonStopped,
	}, types[len(types)-4:])
}

// failingLaunch starts workers through the wrapped backend until index
// failAt, which fails.
type failingLaunch struct {
	backend.Backend
	failAt  int
	started []*worker.Handle
}

func (f *failingLaunch) Launch(index, count int) (*worker.Handle, error) {
	if index == f.failAt {
		return nil, foundationerrors.BackendUnavailable("afl-fuzz failed to start").WithCause(errors.New("exec format error")).Build()
	}
	h, err := f.Backend.Launch(index, count)
	if err == nil {
		f.started = append(f.started, h)
	}
	return h, err
}

func TestRun_FailedLaunchReapsStartedWorkers(t *testing.T) {
	installAFLScript(t, lingeringAFL)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	o, sink := newOrchestrator(t, cfg)
	fl := &failingLaunch{Backend: o.backend, failAt: 1}
	o.backend = fl

	err := o.Run(t.Context())
	require.Error(t, err)
	require.Equal(t, StateStopped, o.State())
	require.Len(t, fl.started, 1)
	require.True(t, fl.started[0].Exited(), "rolled back worker must be reaped before Run returns")
	require.Equal(t, eventstore.TypeDaemonStopped, sink.types()[len(sink.types())-1])
}

func TestRun_RepositoryErrorStopsDaemon(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	cfg.GitURL = filepath.Join(t.TempDir(), "missing.git")
	o, sink := newOrchestrator(t, cfg)

	err := o.Run(t.Context())
	require.Error(t, err)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryGit) ||
		foundationerrors.HasCategory(err, foundationerrors.CategoryAuth))
	require.Equal(t, StateStopped, o.State())
	require.Equal(t, []string{eventstore.TypeDaemonStopped}, sink.types())
}

func TestRun_MissingEngineIsFatal(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	o, _ := newOrchestrator(t, cfg)

	// Only git stays reachable; the local remote's transport needs it.
	gitPath, err := exec.LookPath("git")
	require.NoError(t, err)
	bin := t.TempDir()
	require.NoError(t, os.Symlink(gitPath, filepath.Join(bin, "git")))
	t.Setenv("PATH", bin)
	_, err = exec.LookPath("afl-fuzz")
	require.Error(t, err)

	err = o.Run(t.Context())
	require.Error(t, err)
	require.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryBackend))
	require.Equal(t, StateStopped, o.State())
}

func TestRunOnce_LibFuzzer(t *testing.T) {
	r := newRemote(t)
	target := `#!/bin/sh
for a in "$@"; do
  case "$a" in
    -*) ;;
    *) echo "$$" > "$a/found-$$"; break ;;
  esac
done
exec sleep 60
`
	buildScript := "#!/bin/sh\ncat > target <<'EOF'\n" + target + "EOF\nchmod +x target\n"
	cfg := testConfig(t, r, buildScript)
	cfg.FuzzBackend = config.BackendLibFuzzer
	cfg.NumberOfCPUs = 3
	o, sink := newOrchestrator(t, cfg)

	require.NoError(t, o.RunOnce(t.Context()))
	require.Equal(t, StateStopped, o.State())

	types := sink.types()
	require.Contains(t, types, eventstore.TypeSessionStarted)
	require.Contains(t, types, eventstore.TypeCorpusSynced)
	require.Equal(t, eventstore.TypeDaemonStopped, types[len(types)-1])

	var started eventstore.SessionStarted
	for _, ev := range sink.events {
		if ev.Type() == eventstore.TypeSessionStarted {
			require.NoError(t, eventstore.Decode(ev, &started))
		}
	}
	require.Equal(t, string(config.BackendLibFuzzer), started.Backend)
	require.Equal(t, 3, started.Workers)
}

func TestRunCycle_ScriptChangeForcesRebuild(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	o, _ := newOrchestrator(t, cfg)

	require.NoError(t, o.RunCycle(t.Context()))
	first, _ := o.Session()
	waitForQueues(t, o)

	o.markScriptChanged()
	require.NoError(t, o.RunCycle(t.Context()))
	second, ok := o.Session()
	require.True(t, ok)
	require.NotEqual(t, first.ID, second.ID)
}

func TestRunCycle_RecoversLeftoverQueues(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	leftover := filepath.Join(workspace.OutputDir(cfg.WorkDirPath), "fuzzer00", "queue")
	require.NoError(t, os.MkdirAll(leftover, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(leftover, "id:000042,crash-free"), []byte("left over"), 0o600))

	o, sink := newOrchestrator(t, cfg)
	require.NoError(t, o.RunCycle(t.Context()))

	sum := sha1.Sum([]byte("left over")) //nolint:gosec // corpus naming
	names := corpusNames(t, cfg.InputsDirPath)
	require.Len(t, names, 2)
	require.Contains(t, names, hex.EncodeToString(sum[:]))
	require.Equal(t, eventstore.TypeCorpusSynced, sink.types()[0])

	archived, err := os.ReadDir(workspace.ArchiveDir(cfg.WorkDirPath))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	_, err = os.Stat(filepath.Join(workspace.ArchiveDir(cfg.WorkDirPath), archived[0].Name(), "fuzzer00", "queue", "id:000042,crash-free"))
	require.NoError(t, err, "leftover output must be archived before launch")
}

func TestRunCycle_JournalFeedsHistory(t *testing.T) {
	installFakeAFL(t)
	r := newRemote(t)
	cfg := testConfig(t, r, "#!/bin/sh\nexit 0\n")
	cfg.EventStorePath = filepath.Join(t.TempDir(), "events.db")
	o, _ := newOrchestrator(t, cfg)

	require.NoError(t, o.RunCycle(t.Context()))
	s, ok := o.Session()
	require.True(t, ok)

	active, ok := o.History().GetActiveSession()
	require.True(t, ok)
	require.Equal(t, s.ID, active.SessionID)
	require.Equal(t, 2, active.Workers)
}
