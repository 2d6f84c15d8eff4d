package tool

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type toolPlugin struct{}

// New creates a new tool plugin instance.
func New() plugin.Plugin {
	return &toolPlugin{}
}

var _ plugin.Plugin = (*toolPlugin)(nil)

func (p *toolPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "tool",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{"package", "user"},
		Description:  "Installs global npm and composer packages in a user's environment.",
	}
}

func (p *toolPlugin) Schema() any {
	return config.ToolStep{}
}

type toolEvaluationData struct {
	Missing []string
}

func (p *toolPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	toolCfg, err := loadToolConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if !host.HasCommand(toolCfg.Installer) {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      fmt.Sprintf("%s not found on this host", toolCfg.Installer),
		}, nil
	}

	runCtx, err := execx.AsUser(toolCfg.User)
	if err != nil {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      fmt.Sprintf("target account %q does not exist", toolCfg.User),
		}, nil
	}

	installed, err := p.listInstalled(ctx, runCtx, toolCfg.Installer)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to list %s globals: %w", toolCfg.Installer, err))
	}

	var missing []string
	for _, pkg := range toolCfg.Packages {
		if !installed[normalizeName(pkg)] {
			missing = append(missing, pkg)
		}
	}

	if len(missing) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("all %s globals installed: %s", toolCfg.Installer, strings.Join(toolCfg.Packages, ", ")),
			InternalData: &toolEvaluationData{},
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        fmt.Sprintf("%s globals not installed: %s", toolCfg.Installer, strings.Join(missing, ", ")),
		Diff:           fmt.Sprintf("Would install via %s: %s", toolCfg.Installer, strings.Join(missing, ", ")),
		InternalData:   &toolEvaluationData{Missing: missing},
	}, nil
}

func (p *toolPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	toolCfg, err := loadToolConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *toolEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*toolEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*toolEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing tool state"),
			}, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation failed during apply"))
		}
		data = typed
	}

	if !evalResult.RequiresAction || len(data.Missing) == 0 {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	runCtx, err := execx.AsUser(toolCfg.User)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}

	var args []string
	switch toolCfg.Installer {
	case "npm":
		args = append([]string{"install", "-g"}, data.Missing...)
	case "composer":
		args = append([]string{"global", "require"}, data.Missing...)
	}

	cmd, err := runCtx.Command(ctx, toolCfg.Installer, args...)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, err)
	}
	if res, err := execx.RunStreaming(cmd); err != nil {
		installErr := fmt.Errorf("failed to install %s globals: %w", toolCfg.Installer, err)
		if out := execx.PrimaryOutput(res); out != "" {
			installErr = fmt.Errorf("failed to install %s globals: %w: %s", toolCfg.Installer, err, out)
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: installErr.Error(),
			Error:   installErr,
		}, plugin.NewExecutionError(step.ID, installErr)
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("installed %s globals: %s", toolCfg.Installer, strings.Join(data.Missing, ", ")),
	}, nil
}

// listInstalled probes the installer for its currently installed globals, in
// the target user's context.
func (p *toolPlugin) listInstalled(ctx context.Context, runCtx execx.RunContext, installer string) (map[string]bool, error) {
	var cmd string
	var args []string
	switch installer {
	case "npm":
		cmd, args = "npm", []string{"list", "-g", "--depth=0", "--parseable"}
	case "composer":
		cmd, args = "composer", []string{"global", "show", "--name-only"}
	}

	c, err := runCtx.Command(ctx, cmd, args...)
	if err != nil {
		return nil, err
	}

	res, runErr := execx.RunQuiet(c)
	// npm list exits non-zero when extraneous packages exist; the listing on
	// stdout is still complete.
	if runErr != nil && strings.TrimSpace(res.Stdout) == "" {
		if installer == "composer" {
			// composer global show fails before anything was ever required.
			return map[string]bool{}, nil
		}
		return nil, runErr
	}

	installed := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch installer {
		case "npm":
			// Parseable output is one node_modules path per line; the first
			// line is the prefix itself.
			if idx := strings.LastIndex(line, "/node_modules/"); idx >= 0 {
				installed[normalizeName(line[idx+len("/node_modules/"):])] = true
			}
		case "composer":
			installed[normalizeName(strings.Fields(line)[0])] = true
		}
	}
	return installed, nil
}

// normalizeName strips a version suffix like "yarn@1.22" so probe and desired
// names compare equal.
func normalizeName(pkg string) string {
	if strings.HasPrefix(pkg, "@") {
		// Scoped npm package: @scope/name[@version]
		if idx := strings.LastIndex(pkg, "@"); idx > 0 {
			return pkg[:idx]
		}
		return pkg
	}
	if idx := strings.Index(pkg, "@"); idx > 0 {
		return pkg[:idx]
	}
	if idx := strings.Index(pkg, ":"); idx > 0 {
		return pkg[:idx]
	}
	return path.Clean(pkg)
}

func loadToolConfig(step *config.Step) (*config.ToolStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Tool == nil {
		return nil, fmt.Errorf("tool configuration missing")
	}
	cfg := step.Tool
	switch cfg.Installer {
	case "npm", "composer":
	default:
		return nil, fmt.Errorf("unsupported installer %q", cfg.Installer)
	}
	if len(cfg.Packages) == 0 {
		return nil, fmt.Errorf("package list is empty")
	}
	return cfg, nil
}
