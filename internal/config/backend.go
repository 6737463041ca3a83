package config

import "strings"

// FuzzBackend names a supported fuzzing engine.
type FuzzBackend string

const (
	BackendAFL       FuzzBackend = "AFL"
	BackendLibFuzzer FuzzBackend = "libFuzzer"
)

// SupportedBackends is the closed allow-list accepted for fuzzBackend.
var SupportedBackends = []FuzzBackend{BackendAFL, BackendLibFuzzer}

// NormalizeBackend maps user input (case-insensitive) to the canonical backend
// name, returning empty string for anything outside the allow-list.
func NormalizeBackend(raw string) FuzzBackend {
	trimmed := strings.TrimSpace(raw)
	for _, b := range SupportedBackends {
		if strings.EqualFold(trimmed, string(b)) {
			return b
		}
	}
	return ""
}

func supportedBackendList() string {
	names := make([]string, 0, len(SupportedBackends))
	for _, b := range SupportedBackends {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}
