package repoplugin

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	pluginpkg "github.com/hostprep/hostprep/internal/plugin"
)

func testHost() *hostinfo.Host {
	return &hostinfo.Host{DistroID: "ubuntu", Codename: "jammy", Arch: "amd64", EUID: 0}
}

func initGitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello repo"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "hostprep",
			Email: "hostprep@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return dir
}

func TestRepoPlugin_EvaluateMissingDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clone")

	p := New()
	require.Implements(t, (*pluginpkg.Plugin)(nil), p)

	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: "/tmp/example.git", Destination: dest},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusMissing, res.CurrentState)
	require.True(t, res.RequiresAction)
}

func TestRepoPlugin_ApplyClonesRepository(t *testing.T) {
	source := initGitRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	p := New()
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: source, Destination: dest, Depth: 1},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.True(t, evalRes.RequiresAction)

	result, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)

	contents, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello repo")
}

func TestRepoPlugin_ExistingCloneIsSatisfied(t *testing.T) {
	source := initGitRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	p := New()
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: source, Destination: dest},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	_, err = p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSatisfied, res.CurrentState)
	require.False(t, res.RequiresAction)
}

func TestRepoPlugin_NonRepoDirectoryIsDrifted(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "existing")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "junk.txt"), []byte("junk"), 0o644))

	p := New()
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: "/tmp/example.git", Destination: dest},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusDrifted, res.CurrentState)
	require.Contains(t, res.Message, "not a git repository")
}

func TestRepoPlugin_WrongRemoteIsDriftedAndRecloned(t *testing.T) {
	source := initGitRepo(t)
	otherSource := initGitRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	p := New()

	// First clone from one source, then point the step at another.
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: otherSource, Destination: dest},
	}
	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	_, err = p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)

	step.Repo.URL = source
	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusDrifted, res.CurrentState)
	require.Contains(t, res.Message, "remote URL")

	result, err := p.Apply(context.Background(), testHost(), res, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)
}

func TestRepoPlugin_UnknownOwnerIsBlocked(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clone")

	p := New()
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: "/tmp/example.git", Destination: dest, Owner: "no_such_account_zz"},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusBlocked, res.CurrentState)
}

func TestRepoPlugin_OwnerHandoverUsesCurrentUser(t *testing.T) {
	source := initGitRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	current, err := user.Current()
	require.NoError(t, err)

	p := New()
	step := &config.Step{
		ID:   "clone_ohmyzsh",
		Type: "repo",
		Repo: &config.RepoStep{URL: source, Destination: dest, Owner: current.Username},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)

	result, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)
}
