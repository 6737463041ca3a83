package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

// Config is the run configuration of the daemon. It is produced once by Load
// and treated as read-only afterwards.
type Config struct {
	GitURL          string
	GitBranch       string
	GitAuth         *AuthConfig
	GitRetries      int
	ClonePath       string
	InputsDirPath   string
	WorkDirPath     string
	BuildScriptPath string

	FuzzTarget     string
	FuzzTargetArgs string
	FuzzBackend    FuzzBackend
	FuzzFlags      string
	NumberOfCPUs   int

	UpdateInterval        time.Duration
	StopGracePeriod       time.Duration
	StatusInterval        time.Duration
	RebuildOnScriptChange bool
	Debug                 bool

	MetricsAddr    string
	EventStorePath string // empty when the journal is disabled
	NATSURL        string
	NATSSubject    string
}

// document mirrors the on-disk layout. Pointer fields distinguish an absent
// (or null) key from an explicit zero value.
type document struct {
	GitURL                *string     `yaml:"gitURL" json:"gitURL"`
	GitBranch             *string     `yaml:"gitBranch" json:"gitBranch"`
	GitAuth               *AuthConfig `yaml:"gitAuth" json:"gitAuth"`
	GitRetries            *int        `yaml:"gitRetries" json:"gitRetries"`
	ClonePath             *string     `yaml:"clonePath" json:"clonePath"`
	InputsDirPath         *string     `yaml:"inputsDirPath" json:"inputsDirPath"`
	WorkDirPath           *string     `yaml:"workDirPath" json:"workDirPath"`
	BuildScriptPath       *string     `yaml:"buildScriptPath" json:"buildScriptPath"`
	FuzzTarget            *string     `yaml:"fuzzTarget" json:"fuzzTarget"`
	FuzzTargetArgs        *string     `yaml:"fuzzTargetArgs" json:"fuzzTargetArgs"`
	FuzzBackend           *string     `yaml:"fuzzBackend" json:"fuzzBackend"`
	FuzzFlags             *string     `yaml:"fuzzFlags" json:"fuzzFlags"`
	NumberOfCPUs          *int        `yaml:"numberOfCPUs" json:"numberOfCPUs"`
	UpdateInterval        *int        `yaml:"updateInterval" json:"updateInterval"`
	StopGracePeriod       *int        `yaml:"stopGracePeriod" json:"stopGracePeriod"`
	StatusInterval        *int        `yaml:"statusInterval" json:"statusInterval"`
	RebuildOnScriptChange *bool       `yaml:"rebuildOnScriptChange" json:"rebuildOnScriptChange"`
	Debug                 *bool       `yaml:"debug" json:"debug"`
	MetricsAddr           *string     `yaml:"metricsAddr" json:"metricsAddr"`
	EventStorePath        *string     `yaml:"eventStorePath" json:"eventStorePath"`
	NATSURL               *string     `yaml:"natsURL" json:"natsURL"`
	NATSSubject           *string     `yaml:"natsSubject" json:"natsSubject"`
}

// Load reads, expands, defaults and validates the configuration file at path.
// Every failure is a ConfigurationError.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, foundationerrors.ConfigurationError("configuration file not found").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
		return nil, foundationerrors.ConfigurationError("failed to read configuration file").
			WithCause(err).
			WithContext("path", path).
			Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		if ce, ok := foundationerrors.AsClassified(err); ok {
			ce.Context().Set("path", path)
			return nil, ce
		}
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from a JSON or YAML document. Environment references
// of the form ${VAR} are expanded before decoding.
func Parse(data []byte) (*Config, error) {
	expanded := expandBraced(string(data))

	var doc document
	if err := decode([]byte(expanded), &doc); err != nil {
		return nil, foundationerrors.ConfigurationError("malformed configuration document").
			WithCause(err).
			Build()
	}

	cfg, err := fromDocument(&doc)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandBraced replaces ${NAME} references with the environment value. Bare
// $NAME is left alone since fuzzer flags and target arguments use it.
func expandBraced(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// fromDocument applies defaults to absent keys and converts units.
func fromDocument(doc *document) (*Config, error) {
	workDir := stringOr(doc.WorkDirPath, DefaultWorkDirPath)

	cfg := &Config{
		GitURL:                stringOr(doc.GitURL, ""),
		GitBranch:             stringOr(doc.GitBranch, DefaultGitBranch),
		GitAuth:               doc.GitAuth,
		GitRetries:            intOr(doc.GitRetries, DefaultGitRetries),
		ClonePath:             stringOr(doc.ClonePath, DefaultClonePath),
		InputsDirPath:         stringOr(doc.InputsDirPath, DefaultInputsDirPath),
		WorkDirPath:           workDir,
		BuildScriptPath:       stringOr(doc.BuildScriptPath, DefaultBuildScriptPath),
		FuzzTarget:            stringOr(doc.FuzzTarget, ""),
		FuzzTargetArgs:        stringOr(doc.FuzzTargetArgs, ""),
		FuzzFlags:             stringOr(doc.FuzzFlags, ""),
		NumberOfCPUs:          intOr(doc.NumberOfCPUs, DefaultNumberOfCPUs),
		UpdateInterval:        seconds(intOr(doc.UpdateInterval, DefaultUpdateIntervalSeconds)),
		StopGracePeriod:       seconds(intOr(doc.StopGracePeriod, DefaultStopGracePeriodSeconds)),
		StatusInterval:        seconds(intOr(doc.StatusInterval, DefaultStatusIntervalSeconds)),
		RebuildOnScriptChange: boolOr(doc.RebuildOnScriptChange, false),
		Debug:                 boolOr(doc.Debug, false),
		MetricsAddr:           stringOr(doc.MetricsAddr, ""),
		EventStorePath:        eventStorePath(doc.EventStorePath, workDir),
		NATSURL:               stringOr(doc.NATSURL, ""),
		NATSSubject:           stringOr(doc.NATSSubject, DefaultNATSSubject),
	}

	rawBackend := stringOr(doc.FuzzBackend, string(BackendAFL))
	backend := NormalizeBackend(rawBackend)
	if backend == "" {
		return nil, foundationerrors.ConfigurationError(fmt.Sprintf("unsupported fuzzBackend %q (expected %s)", rawBackend, supportedBackendList())).
			WithContext("field", "fuzzBackend").
			Build()
	}
	cfg.FuzzBackend = backend

	if cfg.GitAuth != nil {
		if t := NormalizeAuthType(string(cfg.GitAuth.Type)); t != "" {
			cfg.GitAuth.Type = t
		}
	}

	// Range checks run on the raw values so that negative seconds are reported
	// with the key name the user wrote.
	if doc.UpdateInterval != nil && *doc.UpdateInterval <= 0 {
		return nil, fieldError("updateInterval", "must be a positive number of seconds")
	}
	if doc.StatusInterval != nil && *doc.StatusInterval <= 0 {
		return nil, fieldError("statusInterval", "must be a positive number of seconds")
	}
	if doc.StopGracePeriod != nil && *doc.StopGracePeriod < 0 {
		return nil, fieldError("stopGracePeriod", "must not be negative")
	}
	return cfg, nil
}

// decode parses JSON documents with encoding/json, which accepts tab
// indentation that the YAML scanner rejects, and everything else as YAML.
func decode(data []byte, doc *document) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return json.Unmarshal(trimmed, doc)
	}
	return yaml.Unmarshal(trimmed, doc)
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
