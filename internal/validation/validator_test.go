package validation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
)

func testHost() *hostinfo.Host {
	return &hostinfo.Host{
		DistroID: "ubuntu",
		Codename: "jammy",
		Arch:     "amd64",
		LookPath: func(name string) (string, error) {
			if name == "zsh" {
				return "/usr/bin/zsh", nil
			}
			return "", os.ErrNotExist
		},
	}
}

func TestRunValidations_AllPass(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".zshrc")
	require.NoError(t, os.WriteFile(file, []byte("plugins=(git zsh-autosuggestions)\n"), 0o644))

	validations := []config.Validation{
		{Type: "command_exists", CommandExists: &config.CommandExistsValidation{Command: "zsh"}},
		{Type: "file_exists", FileExists: &config.FileExistsValidation{Path: file}},
		{Type: "path_contains", PathContains: &config.PathContainsValidation{File: file, Text: `zsh-autosuggestions`}},
	}

	results, err := RunValidations(context.Background(), testHost(), validations)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		require.True(t, res.Passed)
	}
}

func TestRunValidations_ReportsFailures(t *testing.T) {
	validations := []config.Validation{
		{Type: "command_exists", CommandExists: &config.CommandExistsValidation{Command: "mongosh"}},
		{Type: "file_exists", FileExists: &config.FileExistsValidation{Path: "/does/not/exist"}},
	}

	results, err := RunValidations(context.Background(), testHost(), validations)
	require.Error(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Passed)
	require.False(t, results[1].Passed)
	require.Contains(t, err.Error(), "mongosh")
	require.Contains(t, err.Error(), "/does/not/exist")
}

func TestRunValidations_UnknownTypeFails(t *testing.T) {
	validations := []config.Validation{{Type: "port_open"}}

	results, err := RunValidations(context.Background(), testHost(), validations)
	require.Error(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Passed)
}

func TestCheckPathContains_InvalidPattern(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	err := CheckPathContains(file, "(")
	require.Error(t, err)
}
