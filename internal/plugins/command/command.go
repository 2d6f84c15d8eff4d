package commandplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type commandPlugin struct{}

// New creates a new command plugin instance.
func New() plugin.Plugin {
	return &commandPlugin{}
}

var _ plugin.Plugin = (*commandPlugin)(nil)

func (p *commandPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "command",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Executes shell commands with an optional idempotency check.",
	}
}

func (p *commandPlugin) Schema() any {
	return config.CommandStep{}
}

func (p *commandPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	cmdCfg, err := loadCommandConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	runCtx, err := execx.AsUser(cmdCfg.User)
	if err != nil {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      fmt.Sprintf("target account %q does not exist", cmdCfg.User),
		}, nil
	}

	// Without a check command the current state is unknowable; the command
	// runs every time and must be idempotent on its own.
	if strings.TrimSpace(cmdCfg.Check) == "" {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusUnknown,
			RequiresAction: true,
			Message:        "no check command; command will run",
			Diff:           fmt.Sprintf("Would run: %s", cmdCfg.Command),
		}, nil
	}

	cmd, err := buildShellCommand(ctx, runCtx, cmdCfg, cmdCfg.Check)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	if _, err := execx.RunQuiet(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &model.EvaluationResult{
				StepID:         step.ID,
				CurrentState:   model.StatusMissing,
				RequiresAction: true,
				Message:        "check command reports work needed",
				Diff:           fmt.Sprintf("Would run: %s", cmdCfg.Command),
			}, nil
		}
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("check command failed to run: %w", err))
	}

	return &model.EvaluationResult{
		StepID:       step.ID,
		CurrentState: model.StatusSatisfied,
		Message:      "check command reports state already converged",
	}, nil
}

func (p *commandPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cmdCfg, err := loadCommandConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if evalResult != nil && !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	runCtx, err := execx.AsUser(cmdCfg.User)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	cmd, err := buildShellCommand(ctx, runCtx, cmdCfg, cmdCfg.Command)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	streamResult, err := execx.RunStreaming(cmd)
	if err != nil {
		combinedOutput := execx.PrimaryOutput(streamResult)
		if combinedOutput != "" {
			err = fmt.Errorf("%w: %s", err, combinedOutput)
		}
		result := &model.StepResult{StepID: step.ID, Status: model.StatusFailed, Message: err.Error(), Error: err}
		return result, plugin.NewExecutionError(step.ID, err)
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: "command executed",
	}, nil
}

func buildShellCommand(ctx context.Context, runCtx execx.RunContext, cfg *config.CommandStep, script string) (*exec.Cmd, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd, err := runCtx.Command(ctx, shell, "-c", script)
	if err != nil {
		return nil, err
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Env, sortedEnv(cfg.Env)...)
	}
	return cmd, nil
}

func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func loadCommandConfig(step *config.Step) (*config.CommandStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Command == nil {
		return nil, fmt.Errorf("command configuration missing")
	}
	if strings.TrimSpace(step.Command.Command) == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if step.Command.WorkDir != "" {
		if _, err := os.Stat(step.Command.WorkDir); err != nil {
			return nil, fmt.Errorf("workdir %s: %w", step.Command.WorkDir, err)
		}
	}
	return step.Command, nil
}
