package packageplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type packagePlugin struct{}

// New creates a new package plugin instance.
func New() plugin.Plugin {
	return &packagePlugin{}
}

var _ plugin.Plugin = (*packagePlugin)(nil)

func (p *packagePlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "package",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Installs apt packages in idempotent batches.",
	}
}

func (p *packagePlugin) Schema() any {
	return config.PackageStep{}
}

type packageEvaluationData struct {
	MissingPackages     []string
	UnavailablePackages []string
	NeedsUpdate         bool
}

func (p *packagePlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	pkgCfg, err := loadPackageConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	if !host.HasCommand("dpkg-query") {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      "dpkg-query not found; not an apt-based host",
		}, nil
	}

	var missing []string
	var unavailable []string

	for _, name := range pkgCfg.Packages {
		installed, err := queryInstalled(ctx, name)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to query package %s: %w", name, err))
		}
		if installed {
			continue
		}
		available, err := hasCandidate(ctx, name)
		if err != nil {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to check candidate for %s: %w", name, err))
		}
		if !available {
			unavailable = append(unavailable, name)
			continue
		}
		missing = append(missing, name)
	}

	internalData := &packageEvaluationData{
		MissingPackages:     missing,
		UnavailablePackages: unavailable,
		NeedsUpdate:         pkgCfg.Update,
	}

	if len(unavailable) > 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      fmt.Sprintf("no installation candidate for: %s", strings.Join(unavailable, ", ")),
			InternalData: internalData,
		}, nil
	}

	if len(missing) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("all packages installed: %s", strings.Join(pkgCfg.Packages, ", ")),
			InternalData: internalData,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        fmt.Sprintf("packages not installed: %s", strings.Join(missing, ", ")),
		Diff:           fmt.Sprintf("Would install: %s", strings.Join(missing, ", ")),
		InternalData:   internalData,
	}, nil
}

func (p *packagePlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	if _, err := loadPackageConfig(step); err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *packageEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*packageEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		var err error
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*packageEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing package evaluation data"),
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

	if data.NeedsUpdate {
		if err := runAptCommand(ctx, "apt-get", "update"); err != nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: fmt.Sprintf("failed to refresh package index: %v", err),
				Error:   err,
			}, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to refresh package index: %w", err))
		}
	}

	if len(data.MissingPackages) > 0 {
		args := append([]string{"install", "-y"}, data.MissingPackages...)
		if err := runAptCommand(ctx, "apt-get", args...); err != nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: fmt.Sprintf("failed to install packages: %v", err),
				Error:   err,
			}, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to install packages: %w", err))
		}
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("installed packages: %s", strings.Join(data.MissingPackages, ", ")),
	}, nil
}

func queryInstalled(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${db:Status-Status}", name)
	res, err := execx.RunQuiet(cmd)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// dpkg-query exits non-zero for unknown packages.
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "installed", nil
}

// hasCandidate checks whether apt knows an installation source for the
// package. A package apt has never heard of has an empty policy output; a
// known package without a source reports "Candidate: (none)".
func hasCandidate(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "apt-cache", "policy", name)
	res, err := execx.RunQuiet(cmd)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	out := res.Stdout
	if strings.TrimSpace(out) == "" {
		return false, nil
	}
	if strings.Contains(out, "Candidate: (none)") {
		return false, nil
	}
	return true, nil
}

func runAptCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")

	streamResult, err := execx.RunStreaming(cmd)
	if err != nil {
		combinedOutput := execx.PrimaryOutput(streamResult)
		if combinedOutput != "" {
			return fmt.Errorf("%w: %s", err, combinedOutput)
		}
		return err
	}

	return nil
}

func loadPackageConfig(step *config.Step) (*config.PackageStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Package == nil {
		return nil, fmt.Errorf("package configuration missing")
	}
	if len(step.Package.Packages) == 0 {
		return nil, fmt.Errorf("package list is empty")
	}
	return step.Package, nil
}
