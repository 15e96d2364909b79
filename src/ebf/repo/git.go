// Package repo manages the source repositories a build consumes. All git
// operations go through the execute.Executor so that script-mode builds
// record the exact clone/fetch/checkout sequence a direct build performs.
package repo

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/logs"
	"github.com/bitswalk/ebf/src/common/paths"
	"github.com/bitswalk/ebf/src/ebf/execute"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the repo package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Repository obtains project sources at a requested ref
type Repository interface {
	// EnsureAt makes dest contain the repository at ref and returns the
	// commit hash checked out (empty when the executor only records
	// commands). An existing checkout is updated in place, never recloned.
	EnsureAt(ctx context.Context, url, ref, dest string) (string, error)

	// CurrentRef returns the ref or commit currently checked out at dest
	CurrentRef(ctx context.Context, dest string) (string, error)
}

// capturer is implemented by executors that can return command output
type capturer interface {
	Capture(ctx context.Context, cmd execute.Command) (execute.Result, error)
}

// Git implements Repository using the git CLI
type Git struct {
	exec execute.Executor
}

// NewGit creates a git-backed repository manager
func NewGit(exec execute.Executor) *Git {
	return &Git{exec: exec}
}

// EnsureAt clones the repository if dest has no checkout yet, then fetches
// tags and checks out ref. Failures to reach the remote on an existing
// checkout are tolerated when the ref resolves locally.
func (g *Git) EnsureAt(ctx context.Context, url, ref, dest string) (string, error) {
	fresh := !paths.IsDir(filepath.Join(dest, ".git"))
	if fresh {
		log.Info("Cloning repository", "url", url, "dest", dest)
		if err := g.run(ctx, execute.Command{
			Argv:  []string{"git", "clone", url, dest},
			Label: "clone " + url,
		}); err != nil {
			return "", errors.ErrRepoUnavailable.WithMessagef("clone of %s failed", url).WithCause(err)
		}
	} else {
		log.Info("Updating existing checkout", "dest", dest)
		if err := g.run(ctx, execute.Command{
			Argv:  []string{"git", "-C", dest, "fetch", "--tags", "--prune"},
			Label: "fetch " + url,
		}); err != nil {
			log.Warn("Fetch failed, continuing with local refs", "dest", dest, "error", err)
		}
	}

	if ref != "" {
		if err := g.run(ctx, execute.Command{
			Argv:  []string{"git", "-C", dest, "checkout", ref},
			Label: "checkout " + ref,
		}); err != nil {
			return "", errors.ErrRefNotFound.WithMessagef("checkout of %q failed", ref).WithCause(err)
		}
	}

	return g.commitHash(ctx, dest)
}

// CurrentRef returns the symbolic ref when on a branch, otherwise the
// commit hash (detached checkouts from tags land here).
func (g *Git) CurrentRef(ctx context.Context, dest string) (string, error) {
	cap, ok := g.exec.(capturer)
	if !ok {
		return "", nil
	}

	res, err := cap.Capture(ctx, execute.Command{
		Argv: []string{"git", "-C", dest, "symbolic-ref", "--short", "-q", "HEAD"},
	})
	if err != nil {
		return "", errors.ErrRepoUnavailable.WithCause(err)
	}
	if res.ExitCode == 0 {
		return strings.TrimSpace(res.Output), nil
	}
	return g.commitHash(ctx, dest)
}

// commitHash returns HEAD's hash, or empty when output capture is not
// available (script mode)
func (g *Git) commitHash(ctx context.Context, dest string) (string, error) {
	cap, ok := g.exec.(capturer)
	if !ok {
		return "", nil
	}

	res, err := cap.Capture(ctx, execute.Command{
		Argv: []string{"git", "-C", dest, "rev-parse", "HEAD"},
	})
	if err != nil {
		return "", errors.ErrRepoUnavailable.WithCause(err)
	}
	if res.ExitCode != 0 {
		return "", errors.ErrRepoUnavailable.WithMessagef("rev-parse failed in %s", dest)
	}
	return strings.TrimSpace(res.Output), nil
}

// run executes a git command, converting a non-zero exit into an error.
// Unlike build commands, a failed git command never has partial value.
func (g *Git) run(ctx context.Context, cmd execute.Command) error {
	res, err := g.exec.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.ErrRepoUnavailable.WithMessagef("%s exited with code %d", cmd.Argv[0], res.ExitCode)
	}
	return nil
}
