package execx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// RunContext identifies which account a command executes as. The zero value
// means "the invoking process identity" (root during provisioning). Directive
// kinds that manage per-user state (npm globals, composer, shell config) pass
// a named user so tool state lands in that user's environment rather than
// root's.
type RunContext struct {
	User *user.User
}

// AsUser resolves the named account into a RunContext.
func AsUser(username string) (RunContext, error) {
	if username == "" {
		return RunContext{}, nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return RunContext{}, fmt.Errorf("lookup user %s: %w", username, err)
	}
	return RunContext{User: u}, nil
}

// Impersonates reports whether the context targets an account other than the
// invoking process identity.
func (rc RunContext) Impersonates() bool {
	return rc.User != nil && rc.User.Uid != strconv.Itoa(os.Geteuid())
}

// Command builds an exec.Cmd bound to this run context. When impersonating,
// the child process runs with the target user's uid/gid and a minimal
// environment (HOME, USER, LOGNAME) pointing at that account.
func (rc RunContext) Command(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	if !rc.Impersonates() {
		cmd.Env = os.Environ()
		return cmd, nil
	}

	uid, err := strconv.ParseUint(rc.User.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", rc.User.Uid, err)
	}
	gid, err := strconv.ParseUint(rc.User.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", rc.User.Gid, err)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	cmd.Env = []string{
		"HOME=" + rc.User.HomeDir,
		"USER=" + rc.User.Username,
		"LOGNAME=" + rc.User.Username,
		"PATH=" + pathForUser(rc.User),
	}
	cmd.Dir = rc.User.HomeDir

	return cmd, nil
}

func pathForUser(u *user.User) string {
	// Per-user npm prefix binaries plus the standard system path.
	return u.HomeDir + "/.npm-global/bin:" + u.HomeDir + "/.config/composer/vendor/bin:" +
		"/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
}
