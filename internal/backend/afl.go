package backend

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	"git.home.luguber.info/inful/cifuzz/internal/worker"
)

const aflBinary = "afl-fuzz"

// AFL runs one afl-fuzz instance per worker in a shared sync directory:
// index 0 is the main instance, the rest are secondaries.
type AFL struct {
	settings
}

func (a *AFL) Name() config.FuzzBackend { return config.BackendAFL }

// InstanceName is the sync-directory name of worker index.
func (a *AFL) InstanceName(index int) string { return fmt.Sprintf("fuzzer%02d", index) }

func (a *AFL) OutputQueuePath(index int) string {
	return filepath.Join(a.outputDir, a.InstanceName(index), "queue")
}

// KeepQueueEntry drops AFL bookkeeping (.state and other hidden entries) and
// the seeds an instance imported from the input directory.
func (a *AFL) KeepQueueEntry(rel string) bool {
	if isHidden(rel) {
		return false
	}
	return !strings.Contains(filepath.Base(rel), "orig:")
}

func (a *AFL) Check() error {
	if _, err := exec.LookPath(aflBinary); err != nil {
		return unavailable(aflBinary, err)
	}
	return nil
}

func (a *AFL) role(index int) worker.Role {
	if index == 0 {
		return worker.RolePrimary
	}
	return worker.RoleSecondary
}

func (a *AFL) args(index int) []string {
	args := []string{"-i", a.inputsDir, "-o", a.outputDir}
	if a.role(index) == worker.RolePrimary {
		args = append(args, "-M", a.InstanceName(index))
	} else {
		args = append(args, "-S", a.InstanceName(index))
	}
	args = append(args, a.flags...)
	args = append(args, "--", a.target)
	return append(args, a.targetArgs...)
}

func (a *AFL) env(index int) []string {
	pairs := []string{
		"AFL_NO_UI=1",
		"AFL_SKIP_CPUFREQ=1",
		"AFL_I_DONT_CARE_ABOUT_MISSING_CRASHES=1",
		"AFL_IGNORE_SEED_PROBLEMS=1",
	}
	if a.role(index) == worker.RolePrimary {
		pairs = append(pairs, "AFL_FINAL_SYNC=1")
	}
	return envDefaults(pairs...)
}

func (a *AFL) Launch(index, count int) (*worker.Handle, error) {
	bin, err := exec.LookPath(aflBinary)
	if err != nil {
		return nil, unavailable(aflBinary, err)
	}
	return worker.Start(index, a.role(index), a.InstanceName(index), a.command(bin, a.args(index), a.env(index)))
}
