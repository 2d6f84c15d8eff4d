package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
)

func TestBuildDAG_GeneratesLevels(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "install_git", Type: "package", Enabled: true, Package: &config.PackageStep{Packages: []string{"git"}}},
		{ID: "clone_ohmyzsh", Type: "repo", Enabled: true, DependsOn: []string{"install_git"}, Repo: &config.RepoStep{URL: "https://github.com/ohmyzsh/ohmyzsh.git", Destination: "/home/dev/.oh-my-zsh"}},
		{ID: "set_timezone", Type: "command", Enabled: true, DependsOn: []string{"clone_ohmyzsh"}, Command: &config.CommandStep{Command: "timedatectl set-timezone Asia/Kolkata"}},
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)
	require.NotNil(t, graph)

	require.Len(t, graph.Levels, 3)
	require.ElementsMatch(t, []string{"install_git"}, graph.Levels[0])
	require.ElementsMatch(t, []string{"clone_ohmyzsh"}, graph.Levels[1])
	require.ElementsMatch(t, []string{"set_timezone"}, graph.Levels[2])
}

func TestBuildDAG_IndependentStepsShareALevel(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "install_git", Type: "package", Enabled: true, Package: &config.PackageStep{Packages: []string{"git"}}},
		{ID: "install_zsh", Type: "package", Enabled: true, Package: &config.PackageStep{Packages: []string{"zsh"}}},
		{ID: "clone_ohmyzsh", Type: "repo", Enabled: true, DependsOn: []string{"install_git", "install_zsh"}, Repo: &config.RepoStep{URL: "https://github.com/ohmyzsh/ohmyzsh.git", Destination: "/home/dev/.oh-my-zsh"}},
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)

	require.Len(t, graph.Levels, 2)
	require.ElementsMatch(t, []string{"install_git", "install_zsh"}, graph.Levels[0])
	require.ElementsMatch(t, []string{"clone_ohmyzsh"}, graph.Levels[1])
}

func TestBuildDAG_DetectsCycles(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "a", Type: "command", Enabled: true, DependsOn: []string{"c"}, Command: &config.CommandStep{Command: "echo a"}},
		{ID: "b", Type: "command", Enabled: true, DependsOn: []string{"a"}, Command: &config.CommandStep{Command: "echo b"}},
		{ID: "c", Type: "command", Enabled: true, DependsOn: []string{"b"}, Command: &config.CommandStep{Command: "echo c"}},
	}

	graph, err := BuildDAG(steps)
	require.Error(t, err)
	require.Nil(t, graph)
	require.Contains(t, err.Error(), "cycle")
}

func TestBuildDAG_RejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "only", Type: "command", Enabled: true, DependsOn: []string{"ghost"}, Command: &config.CommandStep{Command: "true"}},
	}

	graph, err := BuildDAG(steps)
	require.Error(t, err)
	require.Nil(t, graph)
	require.Contains(t, err.Error(), "ghost")
}

func TestBuildDAG_SkipsDisabledSteps(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "install_git", Type: "package", Enabled: true, Package: &config.PackageStep{Packages: []string{"git"}}},
		{ID: "legacy_step", Type: "command", Enabled: false, Command: &config.CommandStep{Command: "true"}},
		{ID: "clone_ohmyzsh", Type: "repo", Enabled: true, DependsOn: []string{"install_git", "legacy_step"}, Repo: &config.RepoStep{URL: "https://github.com/ohmyzsh/ohmyzsh.git", Destination: "/home/dev/.oh-my-zsh"}},
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)

	_, ok := graph.Nodes["legacy_step"]
	require.False(t, ok)
	require.Len(t, graph.Levels, 2)
}

func TestTopologicalSort_PreservesProfileOrderWithinLevel(t *testing.T) {
	t.Parallel()

	steps := []config.Step{
		{ID: "third", Type: "command", Enabled: true, Command: &config.CommandStep{Command: "true"}},
		{ID: "first", Type: "command", Enabled: true, Command: &config.CommandStep{Command: "true"}},
		{ID: "second", Type: "command", Enabled: true, Command: &config.CommandStep{Command: "true"}},
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)

	require.Len(t, graph.Levels, 1)
	require.Equal(t, []string{"third", "first", "second"}, graph.Levels[0])
}
