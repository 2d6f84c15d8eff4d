package userplugin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type userPlugin struct {
	passwdPath string
}

// New creates a new user plugin instance.
func New() plugin.Plugin {
	return &userPlugin{passwdPath: "/etc/passwd"}
}

var _ plugin.Plugin = (*userPlugin)(nil)

func (p *userPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "user",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Ensures local accounts exist with the desired shell and groups.",
	}
}

func (p *userPlugin) Schema() any {
	return config.UserStep{}
}

type userEvaluationData struct {
	Exists        bool
	CurrentShell  string
	MissingGroups []string
	NeedsShell    bool
	NeedsHome     bool
	HomeDir       string
	UID           int
	GID           int
}

func (p *userPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	userCfg, err := loadUserConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	account, lookupErr := host.LookupUser(userCfg.Username)
	exists := lookupErr == nil

	data := &userEvaluationData{Exists: exists}

	if !exists {
		data.MissingGroups = append([]string(nil), userCfg.Groups...)
		if userCfg.Shell != "" {
			data.NeedsShell = true
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("account %s does not exist", userCfg.Username),
			Diff:           fmt.Sprintf("Would create account %s", userCfg.Username),
			InternalData:   data,
		}, nil
	}

	shell, err := p.loginShell(userCfg.Username)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read login shell: %w", err))
	}
	data.CurrentShell = shell
	data.NeedsShell = userCfg.Shell != "" && shell != userCfg.Shell

	// An account can predate the profile without a home directory; create_home
	// enforces its existence on re-runs too.
	if userCfg.CreateHome && account.HomeDir != "" {
		if _, statErr := os.Stat(account.HomeDir); os.IsNotExist(statErr) {
			data.NeedsHome = true
			data.HomeDir = account.HomeDir
			data.UID, _ = strconv.Atoi(account.Uid)
			data.GID, _ = strconv.Atoi(account.Gid)
		}
	}

	if len(userCfg.Groups) > 0 {
		current, err := memberships(ctx, userCfg.Username)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read group memberships: %w", err))
		}
		for _, g := range userCfg.Groups {
			if !current[g] {
				data.MissingGroups = append(data.MissingGroups, g)
			}
		}
	}

	if !data.NeedsShell && !data.NeedsHome && len(data.MissingGroups) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("account %s already converged", userCfg.Username),
			InternalData: data,
		}, nil
	}

	var changes []string
	if data.NeedsShell {
		changes = append(changes, fmt.Sprintf("shell %s -> %s", shell, userCfg.Shell))
	}
	if len(data.MissingGroups) > 0 {
		changes = append(changes, fmt.Sprintf("add to groups: %s", strings.Join(data.MissingGroups, ", ")))
	}
	if data.NeedsHome {
		changes = append(changes, fmt.Sprintf("create home directory %s", data.HomeDir))
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusDrifted,
		RequiresAction: true,
		Message:        fmt.Sprintf("account %s needs %s", userCfg.Username, strings.Join(changes, "; ")),
		Diff:           strings.Join(changes, "\n"),
		InternalData:   data,
	}, nil
}

func (p *userPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	userCfg, err := loadUserConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *userEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*userEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*userEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing account state"),
			}, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation failed during apply"))
		}
		data = typed
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	if !data.Exists {
		args := []string{userCfg.Username}
		if userCfg.CreateHome {
			args = append([]string{"-m"}, args...)
		}
		if userCfg.Shell != "" {
			args = append([]string{"-s", userCfg.Shell}, args...)
		}
		if err := runUserCommand(ctx, "useradd", args...); err != nil {
			return failed(step.ID, fmt.Errorf("failed to create account %s: %w", userCfg.Username, err))
		}
	} else if data.NeedsShell {
		if err := runUserCommand(ctx, "usermod", "-s", userCfg.Shell, userCfg.Username); err != nil {
			return failed(step.ID, fmt.Errorf("failed to change shell of %s: %w", userCfg.Username, err))
		}
	}

	if data.NeedsHome {
		if err := os.MkdirAll(data.HomeDir, 0o750); err != nil {
			return failed(step.ID, fmt.Errorf("failed to create home directory %s: %w", data.HomeDir, err))
		}
		if err := os.Chown(data.HomeDir, data.UID, data.GID); err != nil && !os.IsPermission(err) {
			return failed(step.ID, fmt.Errorf("failed to hand over home directory %s: %w", data.HomeDir, err))
		}
	}

	// Group membership is additive. usermod -aG never drops existing groups.
	for _, group := range data.MissingGroups {
		if err := runUserCommand(ctx, "usermod", "-aG", group, userCfg.Username); err != nil {
			return failed(step.ID, fmt.Errorf("failed to add %s to group %s: %w", userCfg.Username, group, err))
		}
	}

	verb := "updated"
	if !data.Exists {
		verb = "created"
	}
	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("%s account %s", verb, userCfg.Username),
	}, nil
}

// loginShell reads the account's shell from the passwd database. os/user does
// not expose the shell field.
func (p *userPlugin) loginShell(username string) (string, error) {
	f, err := os.Open(p.passwdPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) >= 7 && fields[0] == username {
			return fields[6], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("account %s not found in %s", username, p.passwdPath)
}

func memberships(ctx context.Context, username string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, "id", "-nG", username)
	res, err := execx.RunQuiet(cmd)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]bool)
	for _, g := range strings.Fields(res.Stdout) {
		groups[g] = true
	}
	return groups, nil
}

func runUserCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if res, err := execx.RunStreaming(cmd); err != nil {
		if out := execx.PrimaryOutput(res); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}

func failed(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

func loadUserConfig(step *config.Step) (*config.UserStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.User == nil {
		return nil, fmt.Errorf("user configuration missing")
	}
	if step.User.Username == "" {
		return nil, fmt.Errorf("username is empty")
	}
	return step.User, nil
}
