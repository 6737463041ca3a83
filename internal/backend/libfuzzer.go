package backend

import (
	"fmt"
	"os/exec"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	"git.home.luguber.info/inful/cifuzz/internal/worker"
)

// LibFuzzer runs the built target itself; every worker reads the input
// corpus and writes discoveries into one shared output directory.
type LibFuzzer struct {
	settings
}

func (l *LibFuzzer) Name() config.FuzzBackend { return config.BackendLibFuzzer }

func (l *LibFuzzer) OutputQueuePath(int) string { return l.outputDir }

func (l *LibFuzzer) KeepQueueEntry(rel string) bool { return !isHidden(rel) }

func (l *LibFuzzer) Check() error {
	if _, err := exec.LookPath(l.target); err != nil {
		return unavailable(l.target, err)
	}
	return nil
}

// args puts the writable output corpus first: libFuzzer stores new inputs in
// the first corpus directory only.
func (l *LibFuzzer) args() []string {
	args := append([]string{}, l.flags...)
	args = append(args, "-artifact_prefix="+l.crashDir+"/", l.outputDir, l.inputsDir)
	return append(args, l.targetArgs...)
}

func (l *LibFuzzer) Launch(index, count int) (*worker.Handle, error) {
	bin, err := exec.LookPath(l.target)
	if err != nil {
		return nil, unavailable(l.target, err)
	}
	return worker.Start(index, worker.RoleNone, fmt.Sprintf("libfuzzer%02d", index), l.command(bin, l.args(), nil))
}
