package mirror

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
)

// Probe lists the remote without touching the local mirror and returns the
// commit the configured branch points at.
func (m *Mirror) Probe(ctx context.Context) (string, error) {
	auth, err := authMethod(m.auth)
	if err != nil {
		return "", m.repositoryError("configure authentication", err).WithCategory(foundationerrors.CategoryAuth).Build()
	}
	remote := git.NewRemote(memory.NewStorage(), &ggitcfg.RemoteConfig{Name: "origin", URLs: []string{m.url}})

	var refs []*plumbing.Reference
	err = m.withRetry(ctx, "ls-remote", func() error {
		r, lerr := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
		if lerr != nil {
			return classifyGitError("ls-remote", m.url, lerr)
		}
		refs = r
		return nil
	})
	if err != nil {
		return "", m.classified("list remote", err)
	}

	want := plumbing.NewBranchReferenceName(m.branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String(), nil
		}
	}
	return "", m.repositoryError(fmt.Sprintf("branch %q not found on remote", m.branch), nil).Build()
}
