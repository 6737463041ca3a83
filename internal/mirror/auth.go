package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/cifuzz/internal/config"
)

// authMethod returns the go-git transport auth for the configured method, or
// nil when no authentication is configured.
func authMethod(a *config.AuthConfig) (transport.AuthMethod, error) {
	if a.IsZero() {
		return nil, nil
	}
	switch config.NormalizeAuthType(string(a.Type)) {
	case config.AuthTypeToken:
		if a.Token == "" {
			return nil, fmt.Errorf("token authentication requires a token")
		}
		// Most Git hosting services accept any username with a token password.
		username := a.Username
		if username == "" {
			username = "token"
		}
		return &http.BasicAuth{Username: username, Password: a.Token}, nil
	case config.AuthTypeBasic:
		if a.Username == "" || a.Password == "" {
			return nil, fmt.Errorf("basic authentication requires username and password")
		}
		return &http.BasicAuth{Username: a.Username, Password: a.Password}, nil
	case config.AuthTypeSSH:
		keyPath := a.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		user := a.Username
		if user == "" {
			user = "git"
		}
		keys, err := ssh.NewPublicKeysFromFile(user, keyPath, a.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", a.Type)
	}
}
