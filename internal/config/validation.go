package config

import (
	"fmt"
	"strings"

	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

// Validate checks the semantic constraints of a loaded configuration.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.GitURL) == "" {
		return fieldError("gitURL", "is required")
	}
	if strings.TrimSpace(cfg.FuzzTarget) == "" {
		return fieldError("fuzzTarget", "is required")
	}
	if strings.TrimSpace(cfg.GitBranch) == "" {
		return fieldError("gitBranch", "must not be empty")
	}
	for field, v := range map[string]string{
		"clonePath":       cfg.ClonePath,
		"inputsDirPath":   cfg.InputsDirPath,
		"workDirPath":     cfg.WorkDirPath,
		"buildScriptPath": cfg.BuildScriptPath,
	} {
		if strings.TrimSpace(v) == "" {
			return fieldError(field, "must not be empty")
		}
	}
	if NormalizeBackend(string(cfg.FuzzBackend)) == "" {
		return fieldError("fuzzBackend", fmt.Sprintf("unsupported backend %q (expected %s)", cfg.FuzzBackend, supportedBackendList()))
	}
	if cfg.NumberOfCPUs < 1 {
		return fieldError("numberOfCPUs", "must be at least 1")
	}
	if cfg.UpdateInterval <= 0 {
		return fieldError("updateInterval", "must be a positive number of seconds")
	}
	if cfg.StatusInterval <= 0 {
		return fieldError("statusInterval", "must be a positive number of seconds")
	}
	if cfg.StopGracePeriod < 0 {
		return fieldError("stopGracePeriod", "must not be negative")
	}
	if cfg.GitRetries < 0 {
		return fieldError("gitRetries", "must not be negative")
	}
	if cfg.NATSURL != "" && strings.TrimSpace(cfg.NATSSubject) == "" {
		return fieldError("natsSubject", "must not be empty when natsURL is set")
	}
	return validateAuth(cfg.GitAuth)
}

func validateAuth(a *AuthConfig) error {
	if a == nil {
		return nil
	}
	t := NormalizeAuthType(string(a.Type))
	if t == "" && a.Type != "" {
		return fieldError("gitAuth.type", fmt.Sprintf("unsupported auth type %q", a.Type))
	}
	switch t {
	case AuthTypeToken:
		if a.Token == "" {
			return fieldError("gitAuth.token", "is required for token auth")
		}
	case AuthTypeBasic:
		if a.Username == "" || a.Password == "" {
			return fieldError("gitAuth", "basic auth requires username and password")
		}
	case AuthTypeSSH:
		if a.KeyPath == "" {
			return fieldError("gitAuth.keyPath", "is required for ssh auth")
		}
	}
	return nil
}

func fieldError(field, msg string) error {
	return foundationerrors.ConfigurationError(fmt.Sprintf("%s %s", field, msg)).
		WithContext("field", field).
		Build()
}
