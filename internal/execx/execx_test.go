package execx

import (
	"bytes"
	"context"
	"os/exec"
	"os/user"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStreamingCapturesOutput(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command("sh", "-c", "echo out; echo err >&2")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res, err := RunStreaming(cmd)
	require.NoError(t, err)
	require.Equal(t, "out", res.Stdout)
	require.Equal(t, "err", res.Stderr)
	require.Equal(t, "out\n", stdout.String())
	require.Equal(t, "err\n", stderr.String())
}

func TestRunQuietDoesNotNeedWriters(t *testing.T) {
	t.Parallel()

	res, err := RunQuiet(exec.Command("sh", "-c", "echo quiet"))
	require.NoError(t, err)
	require.Equal(t, "quiet", res.Stdout)
	require.Empty(t, res.Stderr)
}

func TestRunQuietReturnsExitError(t *testing.T) {
	t.Parallel()

	res, err := RunQuiet(exec.Command("sh", "-c", "echo broken >&2; exit 3"))
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())
	require.Equal(t, "broken", res.Stderr)
}

func TestPrimaryOutputPrefersStderr(t *testing.T) {
	t.Parallel()

	require.Equal(t, "e", PrimaryOutput(Result{Stdout: "o", Stderr: "e"}))
	require.Equal(t, "o", PrimaryOutput(Result{Stdout: "o"}))
	require.Equal(t, "", PrimaryOutput(Result{}))
}

func TestRunContextSelfDoesNotImpersonate(t *testing.T) {
	t.Parallel()

	rc, err := AsUser("")
	require.NoError(t, err)
	require.False(t, rc.Impersonates())

	cmd, err := rc.Command(context.Background(), "true")
	require.NoError(t, err)
	require.Nil(t, cmd.SysProcAttr)
}

func TestRunContextCurrentUserIsNotImpersonation(t *testing.T) {
	t.Parallel()

	me, err := user.Current()
	require.NoError(t, err)

	rc := RunContext{User: me}
	require.False(t, rc.Impersonates())
}

func TestRunContextImpersonationSetsCredentialAndEnv(t *testing.T) {
	t.Parallel()

	me, err := user.Current()
	require.NoError(t, err)

	// Fabricate a different uid so Impersonates() is true regardless of the
	// account running the tests.
	uid, err := strconv.Atoi(me.Uid)
	require.NoError(t, err)
	other := *me
	other.Uid = strconv.Itoa(uid + 1)
	other.Username = "builder"
	other.HomeDir = "/home/builder"

	rc := RunContext{User: &other}
	require.True(t, rc.Impersonates())

	cmd, err := rc.Command(context.Background(), "true")
	require.NoError(t, err)
	require.NotNil(t, cmd.SysProcAttr)
	require.NotNil(t, cmd.SysProcAttr.Credential)
	require.Equal(t, uint32(uid+1), cmd.SysProcAttr.Credential.Uid)
	require.Contains(t, cmd.Env, "HOME=/home/builder")
	require.Contains(t, cmd.Env, "USER=builder")
	require.Equal(t, "/home/builder", cmd.Dir)
}

func TestAsUserUnknownAccount(t *testing.T) {
	t.Parallel()

	_, err := AsUser("definitely-not-a-real-account-xyz")
	require.Error(t, err)
}
