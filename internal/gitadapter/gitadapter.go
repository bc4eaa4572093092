// Package gitadapter implements the GitAdapter capability (§6): the only
// way the engine touches git. Every operation accepts a working-directory
// parameter so the merge pipeline can run the same adapter against a lane
// worktree, a scratch worktree, or the trunk checkout without ever
// confusing which one it is in.
package gitadapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lumenflow-dev/lumenflow/internal/errs"
	"github.com/lumenflow-dev/lumenflow/pkg/logger"
)

var log = logger.New("lumenflow:gitadapter")

// Adapter is the capability interface consumed by the merge pipeline and
// state machine guards. A subprocess-backed Git satisfies it; tests use a
// fake.
type Adapter interface {
	Fetch(ctx context.Context, dir, remote, branch string) error
	CommitHash(ctx context.Context, dir, ref string) (string, error)
	MergeBase(ctx context.Context, dir, a, b string) (string, error)
	Merge(ctx context.Context, dir, ref string, ffOnly bool) error
	Rebase(ctx context.Context, dir, ref string) error
	Commit(ctx context.Context, dir, message string) error
	Add(ctx context.Context, dir string, paths []string) error
	Push(ctx context.Context, dir, refspec string) error
	CreateBranchNoCheckout(ctx context.Context, dir, name, start string) error
	WorktreeAddExisting(ctx context.Context, dir, path, branch string) error
	WorktreeRemove(ctx context.Context, dir, path string) error
	ResetHard(ctx context.Context, dir, ref string) error
	Raw(ctx context.Context, dir string, args ...string) (string, error)
}

// Git is the subprocess-backed Adapter implementation.
type Git struct {
	Timeout   time.Duration
	OutputCap int64
}

// New returns a Git adapter using the given per-invocation timeout and
// output buffer cap (§5 "Cancellation & timeouts").
func New(timeout time.Duration, outputCap int64) *Git {
	return &Git{Timeout: timeout, OutputCap: outputCap}
}

func (g *Git) Fetch(ctx context.Context, dir, remote, branch string) error {
	_, err := g.run(ctx, dir, "fetch", remote, branch)
	return err
}

func (g *Git) CommitHash(ctx context.Context, dir, ref string) (string, error) {
	return g.run(ctx, dir, "rev-parse", ref)
}

func (g *Git) MergeBase(ctx context.Context, dir, a, b string) (string, error) {
	return g.run(ctx, dir, "merge-base", a, b)
}

func (g *Git) Merge(ctx context.Context, dir, ref string, ffOnly bool) error {
	args := []string{"merge"}
	if ffOnly {
		args = append(args, "--ff-only")
	}
	args = append(args, ref)
	_, err := g.run(ctx, dir, args...)
	return err
}

func (g *Git) Rebase(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "rebase", ref)
	return err
}

func (g *Git) Commit(ctx context.Context, dir, message string) error {
	_, err := g.run(ctx, dir, "commit", "-m", message)
	return err
}

func (g *Git) Add(ctx context.Context, dir string, paths []string) error {
	args := append([]string{"add"}, paths...)
	_, err := g.run(ctx, dir, args...)
	return err
}

func (g *Git) Push(ctx context.Context, dir, refspec string) error {
	_, err := g.run(ctx, dir, "push", "origin", refspec)
	return err
}

func (g *Git) CreateBranchNoCheckout(ctx context.Context, dir, name, start string) error {
	_, err := g.run(ctx, dir, "branch", name, start)
	return err
}

func (g *Git) WorktreeAddExisting(ctx context.Context, dir, path, branch string) error {
	_, err := g.run(ctx, dir, "worktree", "add", path, branch)
	return err
}

func (g *Git) WorktreeRemove(ctx context.Context, dir, path string) error {
	_, err := g.run(ctx, dir, "worktree", "remove", "--force", path)
	return err
}

func (g *Git) ResetHard(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "reset", "--hard", ref)
	return err
}

func (g *Git) Raw(ctx context.Context, dir string, args ...string) (string, error) {
	return g.run(ctx, dir, args...)
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir

	cap := g.OutputCap
	if cap <= 0 {
		cap = 10 * 1024 * 1024
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capWriter{buf: &stdout, limit: cap}
	cmd.Stderr = &capWriter{buf: &stderr, limit: cap}

	log.Printf("git %s (dir=%s)", strings.Join(args, " "), dir)
	err := cmd.Run()
	if err != nil {
		if runCtx.Err() != nil {
			return "", errs.Wrap(errs.KindNetwork, "git command timed out", runCtx.Err()).
				WithContext("args", args).WithContext("dir", dir)
		}
		return "", errs.Wrap(errs.KindIO, fmt.Sprintf("git %s failed", strings.Join(args, " ")), err).
			WithContext("stderr", stderr.String()).WithContext("dir", dir)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// capWriter truncates writes past limit rather than letting an unbounded
// subprocess output grow without limit (§5 "output buffer cap ≈10 MiB").
type capWriter struct {
	buf   *bytes.Buffer
	limit int64
}

func (w *capWriter) Write(p []byte) (int, error) {
	if int64(w.buf.Len()) >= w.limit {
		return len(p), nil
	}
	remaining := w.limit - int64(w.buf.Len())
	truncated := p
	if int64(len(truncated)) > remaining {
		truncated = truncated[:remaining]
	}
	if _, err := w.buf.Write(truncated); err != nil {
		return 0, err
	}
	return len(p), nil
}
