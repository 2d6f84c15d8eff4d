package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadProfileUsesEmbeddedDefault(t *testing.T) {
	cfg, err := loadProfile("")
	require.NoError(t, err)
	require.Equal(t, "Server Bootstrap", cfg.Name)
	require.NotEmpty(t, cfg.Steps)
	require.NotEmpty(t, cfg.Validations)
}

func TestLoadProfileRejectsMissingFile(t *testing.T) {
	_, err := loadProfile("/path/does/not/exist.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestLoadProfileRejectsDirectory(t *testing.T) {
	_, err := loadProfile(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "directory")
}

func TestLoadProfileParsesExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := `version: "1.0.0"
name: minimal
steps:
  - id: say_hello
    type: command
    command: "echo hello"
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	cfg, err := loadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "minimal", cfg.Name)
	require.Len(t, cfg.Steps, 1)
}
