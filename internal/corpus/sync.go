package corpus

import (
	"context"
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	foundationerrors "git.home.luguber.info/inful/cifuzz/internal/foundation/errors"
	"git.home.luguber.info/inful/cifuzz/internal/logfields"
)

// Locator tells the synchronizer where worker discoveries live.
type Locator interface {
	OutputQueuePath(index int) string
	KeepQueueEntry(rel string) bool
}

// Synchronizer copies queue entries into the input corpus.
type Synchronizer struct{}

// NewSynchronizer returns a Synchronizer.
func NewSynchronizer() *Synchronizer { return &Synchronizer{} }

// Sync copies every kept regular file below the queue paths of workers
// 0..workerCount-1 into inputDir and returns the number of files written.
// Preconditions are checked before anything is copied.
func (s *Synchronizer) Sync(ctx context.Context, loc Locator, workerCount int, inputDir string) (int, error) {
	if err := requireDir(inputDir); err != nil {
		return 0, syncError("input directory unavailable", inputDir, err)
	}

	queues := queuePaths(loc, workerCount)
	for _, q := range queues {
		if err := requireDir(q); err != nil {
			return 0, syncError("worker queue directory unavailable", q, err)
		}
	}

	written := 0
	for _, q := range queues {
		n, err := s.harvest(ctx, loc, q, inputDir)
		written += n
		if err != nil {
			return written, err
		}
	}
	slog.Info("Corpus synchronized", logfields.Count(written), logfields.Path(inputDir), slog.Int("queues", len(queues)))
	return written, nil
}

// queuePaths returns the distinct queue paths in index order.
func queuePaths(loc Locator, workerCount int) []string {
	seen := make(map[string]struct{}, workerCount)
	out := make([]string, 0, workerCount)
	for i := range workerCount {
		q := loc.OutputQueuePath(i)
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

func (s *Synchronizer) harvest(ctx context.Context, loc Locator, queue, inputDir string) (int, error) {
	written := 0
	err := filepath.WalkDir(queue, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == queue {
			return nil
		}
		rel, err := filepath.Rel(queue, path)
		if err != nil {
			return err
		}
		if !loc.KeepQueueEntry(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		copied, err := copyEntry(path, inputDir)
		if err != nil {
			return err
		}
		if copied {
			written++
		}
		return nil
	})
	if err != nil {
		return written, syncError("copy queue entries", queue, err)
	}
	return written, nil
}

// copyEntry stores src in dir under its content hash. It reports false when
// an identical entry is already present.
func copyEntry(src, dir string) (bool, error) {
	sum, err := hashFile(src)
	if err != nil {
		return false, err
	}
	dst := filepath.Join(dir, sum)
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(dir, ".sync-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return false, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return false, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return false, err
	}
	return true, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha1.New() //nolint:gosec // content addressing
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func syncError(msg, path string, err error) error {
	return foundationerrors.SyncError(msg).
		WithCause(err).
		WithContext("step", "sync").
		WithContext("path", path).
		Build()
}

// Size counts the visible regular files in dir.
func Size(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name()[0] != '.' {
			n++
		}
	}
	return n, nil
}
