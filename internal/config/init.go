package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// example is the document written by Init. Field order matches the order the
// keys are documented in.
type example struct {
	GitURL          string      `json:"gitURL" yaml:"gitURL"`
	GitBranch       string      `json:"gitBranch" yaml:"gitBranch"`
	GitAuth         *AuthConfig `json:"gitAuth,omitempty" yaml:"gitAuth,omitempty"`
	ClonePath       string      `json:"clonePath" yaml:"clonePath"`
	BuildScriptPath string      `json:"buildScriptPath" yaml:"buildScriptPath"`
	FuzzTarget      string      `json:"fuzzTarget" yaml:"fuzzTarget"`
	FuzzTargetArgs  string      `json:"fuzzTargetArgs" yaml:"fuzzTargetArgs"`
	FuzzBackend     string      `json:"fuzzBackend" yaml:"fuzzBackend"`
	FuzzFlags       string      `json:"fuzzFlags" yaml:"fuzzFlags"`
	InputsDirPath   string      `json:"inputsDirPath" yaml:"inputsDirPath"`
	WorkDirPath     string      `json:"workDirPath" yaml:"workDirPath"`
	NumberOfCPUs    int         `json:"numberOfCPUs" yaml:"numberOfCPUs"`
	UpdateInterval  int         `json:"updateInterval" yaml:"updateInterval"`
	Debug           bool        `json:"debug" yaml:"debug"`
}

// Init creates a new configuration file with example content. The file is
// written as YAML when the path ends in .yaml/.yml and as JSON otherwise.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	ex := example{
		GitURL:          "https://github.com/example/project.git",
		GitBranch:       DefaultGitBranch,
		ClonePath:       DefaultClonePath,
		BuildScriptPath: DefaultBuildScriptPath,
		FuzzTarget:      "fuzz/target",
		FuzzTargetArgs:  "@@",
		FuzzBackend:     string(BackendAFL),
		FuzzFlags:       "-m none",
		InputsDirPath:   DefaultInputsDirPath,
		WorkDirPath:     DefaultWorkDirPath,
		NumberOfCPUs:    DefaultNumberOfCPUs,
		UpdateInterval:  DefaultUpdateIntervalSeconds,
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(&ex)
	default:
		data, err = json.MarshalIndent(&ex, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
