package packageplugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	pluginpkg "github.com/hostprep/hostprep/internal/plugin"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func fakePath(t *testing.T, binDir string) {
	t.Helper()
	originalPath := os.Getenv("PATH")
	t.Cleanup(func() { _ = os.Setenv("PATH", originalPath) })
	require.NoError(t, os.Setenv("PATH", binDir+":"+originalPath))
}

func testHost() *hostinfo.Host {
	return &hostinfo.Host{DistroID: "ubuntu", Codename: "jammy", Arch: "amd64", EUID: 0}
}

func TestPackagePlugin_EvaluateReportsSatisfied(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "dpkg-query", `#!/bin/sh
echo "installed"
exit 0
`)
	writeScript(t, binDir, "apt-cache", `#!/bin/sh
echo "Candidate: 1.0"
exit 0
`)
	fakePath(t, binDir)

	p := New()
	require.Implements(t, (*pluginpkg.Plugin)(nil), p)

	step := &config.Step{
		ID:      "install_tools",
		Type:    "package",
		Package: &config.PackageStep{Packages: []string{"git", "curl"}},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSatisfied, res.CurrentState)
	require.False(t, res.RequiresAction)
}

func TestPackagePlugin_EvaluateDetectsMissingPackage(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "dpkg-query", `#!/bin/sh
if echo "$@" | grep -q missing_pkg; then
  exit 1
fi
echo "installed"
exit 0
`)
	writeScript(t, binDir, "apt-cache", `#!/bin/sh
echo "missing_pkg:"
echo "  Candidate: 1.2.3"
exit 0
`)
	fakePath(t, binDir)

	p := New()
	step := &config.Step{
		ID:      "install_tools",
		Type:    "package",
		Package: &config.PackageStep{Packages: []string{"git", "missing_pkg"}},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusMissing, res.CurrentState)
	require.True(t, res.RequiresAction)
	require.Contains(t, res.Message, "missing_pkg")
}

func TestPackagePlugin_EvaluateBlocksWithoutCandidate(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, binDir, "dpkg-query", `#!/bin/sh
exit 1
`)
	writeScript(t, binDir, "apt-cache", `#!/bin/sh
echo "phantom:"
echo "  Installed: (none)"
echo "  Candidate: (none)"
exit 0
`)
	fakePath(t, binDir)

	p := New()
	step := &config.Step{
		ID:      "install_phantom",
		Type:    "package",
		Package: &config.PackageStep{Packages: []string{"phantom"}},
	}

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusBlocked, res.CurrentState)
	require.False(t, res.RequiresAction)
	require.Contains(t, res.Message, "no installation candidate")
}

func TestPackagePlugin_ApplyRunsAptGetBatch(t *testing.T) {
	binDir := t.TempDir()
	logPath := filepath.Join(binDir, "apt.log")
	writeScript(t, binDir, "dpkg-query", `#!/bin/sh
exit 1
`)
	writeScript(t, binDir, "apt-cache", `#!/bin/sh
echo "Candidate: 1.0"
exit 0
`)
	writeScript(t, binDir, "apt-get", `#!/bin/sh
echo "$@" >> `+logPath+`
exit 0
`)
	fakePath(t, binDir)

	p := New()
	step := &config.Step{
		ID:      "install_tools",
		Type:    "package",
		Package: &config.PackageStep{Packages: []string{"git", "curl"}},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.True(t, evalRes.RequiresAction)

	res, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, res.Status)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "install -y git curl")
	require.NotContains(t, string(log), "update")
}

func TestPackagePlugin_ApplyRefreshesIndexWhenAsked(t *testing.T) {
	binDir := t.TempDir()
	logPath := filepath.Join(binDir, "apt.log")
	writeScript(t, binDir, "dpkg-query", `#!/bin/sh
exit 1
`)
	writeScript(t, binDir, "apt-cache", `#!/bin/sh
echo "Candidate: 1.0"
exit 0
`)
	writeScript(t, binDir, "apt-get", `#!/bin/sh
echo "$@" >> `+logPath+`
exit 0
`)
	fakePath(t, binDir)

	p := New()
	step := &config.Step{
		ID:      "install_tools",
		Type:    "package",
		Package: &config.PackageStep{Packages: []string{"zsh"}, Update: true},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "update", lines[0])
	require.Contains(t, lines[1], "install -y zsh")
}

func TestPackagePlugin_EvaluateRejectsMissingConfig(t *testing.T) {
	p := New()
	step := &config.Step{ID: "broken", Type: "package"}

	_, err := p.Evaluate(context.Background(), testHost(), step)
	require.Error(t, err)
}
