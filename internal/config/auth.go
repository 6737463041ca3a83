package config

import "strings"

// AuthType enumerates supported authentication methods (stringly for YAML compatibility)
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

// AuthConfig represents authentication configuration for the mirrored repository.
type AuthConfig struct {
	Type     AuthType `yaml:"type" json:"type"` // ssh|token|basic|none
	Username string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password string   `yaml:"password,omitempty" json:"password,omitempty"`
	Token    string   `yaml:"token,omitempty" json:"token,omitempty"`
	KeyPath  string   `yaml:"keyPath,omitempty" json:"keyPath,omitempty"`
}

// IsZero reports whether no auth method specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }

// NormalizeAuthType converts arbitrary user input (case-insensitive) into a typed auth method, returning empty string for unknown.
func NormalizeAuthType(raw string) AuthType {
	switch AuthType(strings.ToLower(strings.TrimSpace(raw))) {
	case AuthTypeNone:
		return AuthTypeNone
	case AuthTypeSSH:
		return AuthTypeSSH
	case AuthTypeToken:
		return AuthTypeToken
	case AuthTypeBasic:
		return AuthTypeBasic
	default:
		return ""
	}
}
