package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

type GitOptions struct {
	RepoDir     string
	Remote      string // empty disables push
	Branch      string // empty pushes to the remote's branch of the same name
	AuthorName  string
	AuthorEmail string
}

// GitCommitter commits artifacts with the git binary, the way CI publishes
// them: add, commit only when something is staged, then push.
type GitCommitter struct {
	opts GitOptions
	log  *logger.Logger
}

func NewGitCommitter(log *logger.Logger, opts GitOptions) (*GitCommitter, error) {
	if opts.RepoDir == "" {
		return nil, errors.New("git repo dir is empty")
	}
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git binary not found: %w", err)
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "coesg-data"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "coesg-data@users.noreply.github.com"
	}
	return &GitCommitter{opts: opts, log: log.With("component", "git")}, nil
}

// Dirty reports uncommitted changes to paths, or local commits the remote
// has not received yet.
func (g *GitCommitter) Dirty(ctx context.Context, paths []string) (bool, error) {
	out, err := g.run(ctx, append([]string{"status", "--porcelain", "--"}, paths...)...)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) != "" {
		return true, nil
	}
	return g.unpushed(ctx)
}

// Commit commits whatever of paths changed and pushes. A commit left behind
// by an earlier failed push is pushed even when nothing new is staged.
func (g *GitCommitter) Commit(ctx context.Context, paths []string, message string) error {
	if _, err := g.run(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
		return err
	}

	// diff --cached --quiet exits 1 when something is staged.
	if _, err := g.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		g.log.Info("Nothing staged, skipping commit")
		ahead, err := g.unpushed(ctx)
		if err != nil {
			return err
		}
		if !ahead {
			return nil
		}
	} else {
		if _, err := g.run(ctx,
			"-c", "user.name="+g.opts.AuthorName,
			"-c", "user.email="+g.opts.AuthorEmail,
			"commit", "-m", message,
		); err != nil {
			return err
		}
		g.log.Info("Committed artifacts", "message", message)
	}

	return g.push(ctx)
}

func (g *GitCommitter) push(ctx context.Context) error {
	if g.opts.Remote == "" {
		return nil
	}
	ref := "HEAD"
	if g.opts.Branch != "" {
		ref = "HEAD:" + g.opts.Branch
	}
	if _, err := g.run(ctx, "push", g.opts.Remote, ref); err != nil {
		return err
	}
	g.log.Info("Pushed artifacts", "remote", g.opts.Remote, "ref", ref)
	return nil
}

// unpushed compares HEAD with the remote branch tip. A branch missing on the
// remote counts as unpushed.
func (g *GitCommitter) unpushed(ctx context.Context) (bool, error) {
	if g.opts.Remote == "" {
		return false, nil
	}
	branch := g.opts.Branch
	if branch == "" {
		out, err := g.run(ctx, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return false, err
		}
		branch = strings.TrimSpace(out)
	}

	local, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}
	out, err := g.run(ctx, "ls-remote", g.opts.Remote, "refs/heads/"+branch)
	if err != nil {
		return false, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return true, nil
	}
	return fields[0] != strings.TrimSpace(local), nil
}

func (g *GitCommitter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.opts.RepoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
