package conffile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type conffilePlugin struct{}

// New creates a new conffile plugin instance.
func New() plugin.Plugin {
	return &conffilePlugin{}
}

var _ plugin.Plugin = (*conffilePlugin)(nil)

func (p *conffilePlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "conffile",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Writes configuration files whose desired content is known byte for byte.",
	}
}

func (p *conffilePlugin) Schema() any {
	return config.ConffileStep{}
}

type conffileEvaluationData struct {
	Exists  bool
	Mode    os.FileMode
	Content []byte
}

func (p *conffilePlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	cfCfg, err := loadConffileConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	desired := []byte(cfCfg.Content)
	mode, err := desiredMode(cfCfg)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	current, readErr := os.ReadFile(cfCfg.Path)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read %s: %w", cfCfg.Path, readErr))
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s does not exist", cfCfg.Path),
			Diff:           fmt.Sprintf("Would create %s (%d bytes, mode %04o)", cfCfg.Path, len(desired), mode),
			InternalData:   &conffileEvaluationData{Content: desired, Mode: mode},
		}, nil
	}

	info, err := os.Stat(cfCfg.Path)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to stat %s: %w", cfCfg.Path, err))
	}

	contentMatches := bytes.Equal(current, desired)
	modeMatches := cfCfg.Mode == "" || info.Mode().Perm() == mode

	if contentMatches && modeMatches {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("%s already has the desired content", cfCfg.Path),
			InternalData: &conffileEvaluationData{Exists: true, Content: desired, Mode: mode},
		}, nil
	}

	diff := describeDrift(cfCfg.Path, contentMatches, modeMatches, info.Mode().Perm(), mode)

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusDrifted,
		RequiresAction: true,
		Message:        fmt.Sprintf("%s differs from the desired content", cfCfg.Path),
		Diff:           diff,
		InternalData:   &conffileEvaluationData{Exists: true, Content: desired, Mode: mode},
	}, nil
}

func (p *conffilePlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfCfg, err := loadConffileConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *conffileEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*conffileEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*conffileEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing file state"),
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

	if err := writeFileAtomic(cfCfg.Path, data.Content, data.Mode); err != nil {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: fmt.Sprintf("failed to write %s: %v", cfCfg.Path, err),
			Error:   err,
		}, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to write %s: %w", cfCfg.Path, err))
	}

	if cfCfg.Reload != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", cfCfg.Reload)
		if res, err := execx.RunStreaming(cmd); err != nil {
			out := execx.PrimaryOutput(res)
			reloadErr := fmt.Errorf("file written but reload command failed: %w", err)
			if out != "" {
				reloadErr = fmt.Errorf("file written but reload command failed: %w: %s", err, out)
			}
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: reloadErr.Error(),
				Error:   reloadErr,
			}, plugin.NewExecutionError(step.ID, reloadErr)
		}
	}

	verb := "updated"
	if !data.Exists {
		verb = "created"
	}
	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("%s %s", verb, cfCfg.Path),
	}, nil
}

func loadConffileConfig(step *config.Step) (*config.ConffileStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Conffile == nil {
		return nil, fmt.Errorf("conffile configuration missing")
	}
	if step.Conffile.Path == "" {
		return nil, fmt.Errorf("conffile path is empty")
	}
	return step.Conffile, nil
}

func desiredMode(cfg *config.ConffileStep) (os.FileMode, error) {
	if cfg.Mode == "" {
		return 0o644, nil
	}
	parsed, err := strconv.ParseUint(cfg.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", cfg.Mode, err)
	}
	return os.FileMode(parsed), nil
}

func describeDrift(path string, contentMatches, modeMatches bool, haveMode, wantMode os.FileMode) string {
	switch {
	case !contentMatches && !modeMatches:
		return fmt.Sprintf("Would rewrite %s and change mode %04o -> %04o", path, haveMode, wantMode)
	case !contentMatches:
		return fmt.Sprintf("Would rewrite %s", path)
	default:
		return fmt.Sprintf("Would change mode of %s from %04o to %04o", path, haveMode, wantMode)
	}
}

// writeFileAtomic stages the content next to the target and renames it into
// place so a crash never leaves a truncated file at the final path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".conffile-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
