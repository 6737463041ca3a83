package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/cifuzz/internal/config"
	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
	"git.home.luguber.info/inful/cifuzz/internal/retry"
)

// Status reports the outcome of Ensure.
type Status int

const (
	Unchanged Status = iota
	Changed
)

func (s Status) String() string {
	if s == Changed {
		return "changed"
	}
	return "unchanged"
}

// Result describes what Ensure did. Before is empty after a fresh clone.
type Result struct {
	Status Status
	Before string
	After  string
}

// Changed reports whether the checked-out commit moved.
func (r Result) Changed() bool { return r.Status == Changed }

// Mirror manages the local clone at a fixed path.
type Mirror struct {
	url    string
	branch string
	path   string
	auth   *config.AuthConfig
	policy retry.Policy
}

// New creates a mirror from the run configuration.
func New(cfg *config.Config) *Mirror {
	return &Mirror{
		url:    cfg.GitURL,
		branch: cfg.GitBranch,
		path:   cfg.ClonePath,
		auth:   cfg.GitAuth,
		policy: retry.NewPolicy(retry.ModeLinear, 0, 0, cfg.GitRetries),
	}
}

// WithRetryPolicy overrides the retry policy (fluent helper).
func (m *Mirror) WithRetryPolicy(p retry.Policy) *Mirror { m.policy = p; return m }

// Path returns the local clone path.
func (m *Mirror) Path() string { return m.path }

// Ensure clones the repository when the local path is missing, otherwise
// fetches the configured branch and hard-resets the local branch onto it.
// The result is Changed iff HEAD differs from what it was before the call.
func (m *Mirror) Ensure(ctx context.Context) (Result, error) {
	entries, err := os.ReadDir(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return m.clone(ctx)
	case err != nil:
		return Result{}, m.repositoryError("read mirror path", err).Build()
	case len(entries) == 0:
		// A pre-created empty directory is treated like a missing one.
		return m.clone(ctx)
	}
	return m.update(ctx)
}

// Head returns the commit currently checked out in the mirror.
func (m *Mirror) Head() (string, error) {
	repo, err := git.PlainOpen(m.path)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func (m *Mirror) clone(ctx context.Context) (Result, error) {
	auth, err := authMethod(m.auth)
	if err != nil {
		return Result{}, m.repositoryError("configure authentication", err).WithCategory(foundationerrors.CategoryAuth).Build()
	}
	slog.Info("Cloning repository", logfields.URL(m.url), logfields.Branch(m.branch), logfields.Path(m.path))

	var repo *git.Repository
	err = m.withRetry(ctx, "clone", func() error {
		r, cerr := git.PlainCloneContext(ctx, m.path, false, &git.CloneOptions{
			URL:           m.url,
			Auth:          auth,
			ReferenceName: plumbing.NewBranchReferenceName(m.branch),
			SingleBranch:  true,
			Tags:          git.NoTags,
		})
		if cerr != nil {
			// A failed clone leaves a partial directory behind; the next
			// attempt must start from an absent path again.
			_ = os.RemoveAll(m.path)
			return classifyGitError("clone", m.url, cerr)
		}
		repo = r
		return nil
	})
	if err != nil {
		return Result{}, m.classified("clone repository", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Result{}, m.repositoryError("resolve HEAD after clone", err).Build()
	}
	after := head.Hash().String()
	slog.Info("Repository cloned", logfields.URL(m.url), logfields.Branch(m.branch), logfields.Commit(after))
	return Result{Status: Changed, After: after}, nil
}

func (m *Mirror) update(ctx context.Context) (Result, error) {
	repo, err := git.PlainOpen(m.path)
	if err != nil {
		return Result{}, m.repositoryError("open mirror", err).Build()
	}
	if err := m.verifyOrigin(repo); err != nil {
		return Result{}, err
	}

	var before plumbing.Hash
	if ref, herr := repo.Head(); herr == nil {
		before = ref.Hash()
	}

	auth, err := authMethod(m.auth)
	if err != nil {
		return Result{}, m.repositoryError("configure authentication", err).WithCategory(foundationerrors.CategoryAuth).Build()
	}
	if err := m.fetch(ctx, repo, auth); err != nil {
		return Result{}, err
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", m.branch), true)
	if err != nil {
		return Result{}, m.repositoryError(fmt.Sprintf("resolve origin/%s", m.branch), err).Build()
	}
	target := remoteRef.Hash()

	if target == before && m.onBranch(repo) {
		slog.Debug("Repository already up-to-date", logfields.Branch(m.branch), logfields.Commit(target.String()))
		return Result{Status: Unchanged, Before: before.String(), After: target.String()}, nil
	}

	if err := m.resetTo(repo, target); err != nil {
		return Result{}, m.repositoryError("reset to remote branch", err).Build()
	}

	res := Result{Status: Unchanged, Before: before.String(), After: target.String()}
	if target != before {
		res.Status = Changed
		slog.Info("Repository updated", logfields.Branch(m.branch),
			slog.String("from", shortHash(before)), slog.String("to", shortHash(target)))
	}
	return res, nil
}

// verifyOrigin refuses to reuse a clone of a different repository.
func (m *Mirror) verifyOrigin(repo *git.Repository) error {
	remote, err := repo.Remote("origin")
	if err != nil {
		return m.repositoryError("mirror has no origin remote", err).Build()
	}
	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] != m.url {
		return foundationerrors.RepositoryError("mirror origin does not match configured gitURL").
			WithContext("step", "mirror").
			WithContext("path", m.path).
			WithContext("expected", m.url).
			WithContext("actual", fmt.Sprint(urls)).
			Build()
	}
	return nil
}

func (m *Mirror) fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	refSpec := ggitcfg.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", m.branch, m.branch))
	err := m.withRetry(ctx, "fetch", func() error {
		ferr := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []ggitcfg.RefSpec{refSpec},
			Auth:       auth,
			Tags:       git.NoTags,
		})
		if ferr != nil && !errors.Is(ferr, git.NoErrAlreadyUpToDate) {
			return classifyGitError("fetch", m.url, ferr)
		}
		return nil
	})
	if err != nil {
		return m.classified("fetch origin", err)
	}
	return nil
}

func (m *Mirror) onBranch(repo *git.Repository) bool {
	head, err := repo.Head()
	if err != nil {
		return false
	}
	return head.Name() == plumbing.NewBranchReferenceName(m.branch)
}

// resetTo checks out the local branch (creating it when needed) and moves it
// onto target, discarding local modifications to tracked files.
func (m *Mirror) resetTo(repo *git.Repository, target plumbing.Hash) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	local := plumbing.NewBranchReferenceName(m.branch)
	if _, lerr := repo.Reference(local, true); lerr != nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: target, Create: true, Force: true}); err != nil {
			return fmt.Errorf("checkout new branch: %w", err)
		}
	} else if !m.onBranch(repo) {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
			return fmt.Errorf("checkout existing branch: %w", err)
		}
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	return nil
}

func (m *Mirror) withRetry(ctx context.Context, op string, fn func() error) error {
	return m.policy.Do(ctx, fn, isPermanentGitError, func(attempt int, err error) {
		slog.Warn("git operation failed, retrying",
			slog.String("op", op),
			logfields.URL(m.url),
			slog.Int("attempt", attempt),
			slog.Duration("delay", m.policy.Delay(attempt)),
			logfields.Error(err))
	})
}

func (m *Mirror) repositoryError(msg string, err error) *foundationerrors.ErrorBuilder {
	return foundationerrors.RepositoryError(msg).
		WithCause(err).
		WithContext("step", "mirror").
		WithContext("path", m.path).
		WithContext("url", m.url)
}

// classified maps typed git failures onto the error taxonomy.
func (m *Mirror) classified(msg string, err error) error {
	b := m.repositoryError(msg, err)
	if errors.As(err, new(*AuthError)) {
		b = b.WithCategory(foundationerrors.CategoryAuth).UserAction()
	}
	return b.Build()
}

func shortHash(h plumbing.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()[:8]
}
