package publish

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q", "-b", "main")
	gitCmd(t, dir, "-c", "user.name=t", "-c", "user.email=t@example.com", "commit", "-q", "--allow-empty", "-m", "init")
	return dir
}

func TestGitCommitterCommitAndPush(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := t.TempDir()
	gitCmd(t, remote, "init", "-q", "--bare")

	repo := initRepo(t)
	gitCmd(t, repo, "remote", "add", "origin", remote)

	g, err := NewGitCommitter(logger.NewNop(), GitOptions{
		RepoDir:     repo,
		Remote:      "origin",
		Branch:      "main",
		AuthorName:  "COE Bot",
		AuthorEmail: "bot@example.com",
	})
	require.NoError(t, err)

	paths := []string{"v1/history.json"}
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "v1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "v1", "history.json"), []byte("[]\n"), 0o644))

	dirty, err := g.Dirty(ctx, paths)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, g.Commit(ctx, paths, "Update COE data (Feb 2026 Ex 1)"))

	dirty, err = g.Dirty(ctx, paths)
	require.NoError(t, err)
	assert.False(t, dirty)

	assert.Equal(t, "Update COE data (Feb 2026 Ex 1)", gitCmd(t, repo, "log", "-1", "--format=%s"))
	assert.Equal(t, "COE Bot", gitCmd(t, repo, "log", "-1", "--format=%an"))
	assert.Equal(t, gitCmd(t, repo, "rev-parse", "HEAD"), gitCmd(t, remote, "rev-parse", "main"))
}

func TestGitCommitterNothingStaged(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	repo := initRepo(t)

	g, err := NewGitCommitter(logger.NewNop(), GitOptions{RepoDir: repo})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "latest.json"), []byte("{}\n"), 0o644))
	require.NoError(t, g.Commit(ctx, []string{"latest.json"}, "first"))
	head := gitCmd(t, repo, "rev-parse", "HEAD")

	require.NoError(t, g.Commit(ctx, []string{"latest.json"}, "second"))
	assert.Equal(t, head, gitCmd(t, repo, "rev-parse", "HEAD"))
}

func TestGitCommitterOutsideRepo(t *testing.T) {
	requireGit(t)
	t.Setenv("GIT_CEILING_DIRECTORIES", os.TempDir())

	g, err := NewGitCommitter(logger.NewNop(), GitOptions{RepoDir: t.TempDir()})
	require.NoError(t, err)

	_, err = g.Dirty(context.Background(), []string{"v1/history.json"})
	require.Error(t, err)
}

func TestNewGitCommitterRequiresDir(t *testing.T) {
	_, err := NewGitCommitter(logger.NewNop(), GitOptions{})
	require.Error(t, err)
}

func TestGitCommitterPushesAfterEarlierPushFailure(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := t.TempDir()
	gitCmd(t, remote, "init", "-q", "--bare")

	repo := initRepo(t)
	gitCmd(t, repo, "remote", "add", "origin", filepath.Join(t.TempDir(), "missing.git"))

	g, err := NewGitCommitter(logger.NewNop(), GitOptions{RepoDir: repo, Remote: "origin", Branch: "main"})
	require.NoError(t, err)

	paths := []string{"history.json"}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "history.json"), []byte("[]\n"), 0o644))
	require.Error(t, g.Commit(ctx, paths, "Update COE data"))

	gitCmd(t, repo, "remote", "set-url", "origin", remote)

	dirty, err := g.Dirty(ctx, paths)
	require.NoError(t, err)
	assert.True(t, dirty, "a local commit the remote lacks must count as dirty")

	require.NoError(t, g.Commit(ctx, paths, "Update COE data"))
	assert.Equal(t, gitCmd(t, repo, "rev-parse", "HEAD"), gitCmd(t, remote, "rev-parse", "main"))

	dirty, err = g.Dirty(ctx, paths)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestPublishRetriesFailedPush(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := t.TempDir()
	gitCmd(t, remote, "init", "-q", "--bare")

	repo := initRepo(t)
	gitCmd(t, repo, "remote", "add", "origin", filepath.Join(t.TempDir(), "missing.git"))

	g, err := NewGitCommitter(logger.NewNop(), GitOptions{RepoDir: repo, Remote: "origin", Branch: "main"})
	require.NoError(t, err)
	p, err := NewPublisher(logger.NewNop(), Options{OutputDir: repo, Committer: g})
	require.NoError(t, err)

	_, err = p.Publish(ctx, bundle(t0, feb1, jan2))
	require.Error(t, err)

	gitCmd(t, repo, "remote", "set-url", "origin", remote)

	res, err := p.Publish(ctx, bundle(t0, feb1, jan2))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Committed)
	assert.Equal(t, gitCmd(t, repo, "rev-parse", "HEAD"), gitCmd(t, remote, "rev-parse", "main"))
}
