package commandplugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
)

func testHost() *hostinfo.Host {
	return &hostinfo.Host{DistroID: "ubuntu", Codename: "jammy", Arch: "amd64", EUID: 0}
}

func commandStep(command, check string) *config.Step {
	return &config.Step{
		ID:      "set_timezone",
		Type:    "command",
		Command: &config.CommandStep{Command: command, Check: check},
	}
}

func TestCommandPlugin_EvaluateSatisfiedWhenCheckPasses(t *testing.T) {
	p := New()
	step := commandStep("echo apply", "true")

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSatisfied, res.CurrentState)
	require.False(t, res.RequiresAction)
}

func TestCommandPlugin_EvaluateMissingWhenCheckFails(t *testing.T) {
	p := New()
	step := commandStep("echo apply", "false")

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusMissing, res.CurrentState)
	require.True(t, res.RequiresAction)
}

func TestCommandPlugin_EvaluateWithoutCheckAlwaysRuns(t *testing.T) {
	p := New()
	step := commandStep("echo apply", "")

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusUnknown, res.CurrentState)
	require.True(t, res.RequiresAction)
}

func TestCommandPlugin_ApplyRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	p := New()
	step := commandStep("touch "+marker, "test -f "+marker)

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.True(t, evalRes.RequiresAction)

	res, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, res.Status)

	_, err = os.Stat(marker)
	require.NoError(t, err)

	// The check now passes, so a second run converges to satisfied.
	secondEval, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSatisfied, secondEval.CurrentState)
}

func TestCommandPlugin_ApplyReportsFailure(t *testing.T) {
	p := New()
	step := commandStep("echo broken >&2; exit 3", "")

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)

	res, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, res.Status)
	require.Contains(t, res.Message, "broken")
}

func TestCommandPlugin_ApplyUsesEnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()
	p := New()
	step := &config.Step{
		ID:   "env_cmd",
		Type: "command",
		Command: &config.CommandStep{
			Command: "echo $GREETING > out.txt",
			WorkDir: dir,
			Env:     map[string]string{"GREETING": "hello"},
		},
	}

	evalRes, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)

	res, err := p.Apply(context.Background(), testHost(), evalRes, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, res.Status)

	out, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(out))
}

func TestCommandPlugin_EvaluateRejectsEmptyCommand(t *testing.T) {
	p := New()
	_, err := p.Evaluate(context.Background(), testHost(), &config.Step{
		ID:      "bad",
		Type:    "command",
		Command: &config.CommandStep{Command: "   "},
	})
	require.Error(t, err)
}

func TestCommandPlugin_EvaluateBlockedForUnknownUser(t *testing.T) {
	p := New()
	step := commandStep("echo x", "true")
	step.Command.User = "no_such_account_zz"

	res, err := p.Evaluate(context.Background(), testHost(), step)
	require.NoError(t, err)
	require.Equal(t, model.StatusBlocked, res.CurrentState)
}
