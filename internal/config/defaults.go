package config

import (
	"path/filepath"
	"strings"
)

// Defaults applied to absent keys.
const (
	DefaultInputsDirPath          = "/tmp/ci-fuzz/inputs"
	DefaultClonePath              = "/tmp/ci-fuzz/repo"
	DefaultWorkDirPath            = "/tmp/ci-fuzz"
	DefaultBuildScriptPath        = "/tmp/ci-fuzz/build.sh"
	DefaultGitBranch              = "master"
	DefaultGitRetries             = 2
	DefaultNumberOfCPUs           = 1
	DefaultUpdateIntervalSeconds  = 300
	DefaultStopGracePeriodSeconds = 10
	DefaultStatusIntervalSeconds  = 60
	DefaultNATSSubject            = "cifuzz.events"

	// EventStoreDisabled turns the event journal off when used as eventStorePath.
	EventStoreDisabled = "none"
	eventStoreFileName = "events.db"
)

func eventStorePath(v *string, workDir string) string {
	if v == nil {
		return filepath.Join(workDir, eventStoreFileName)
	}
	p := strings.TrimSpace(*v)
	if strings.EqualFold(p, EventStoreDisabled) {
		return ""
	}
	if p == "" {
		return filepath.Join(workDir, eventStoreFileName)
	}
	return p
}
