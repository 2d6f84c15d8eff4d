package swap

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

type swapPlugin struct {
	procSwapsPath string
}

// New creates a new swap plugin instance.
func New() plugin.Plugin {
	return &swapPlugin{procSwapsPath: "/proc/swaps"}
}

var _ plugin.Plugin = (*swapPlugin)(nil)

func (p *swapPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "swap",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Provisions a swap file, activates it and persists it in fstab.",
	}
}

func (p *swapPlugin) Schema() any {
	return config.SwapStep{}
}

type swapEvaluationData struct {
	FileExists   bool
	SizeMatches  bool
	Active       bool
	InFstab      bool
	DesiredBytes int64
	FstabLine    string
}

func (p *swapPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	swapCfg, err := loadSwapConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	desiredBytes, err := parseSize(swapCfg.Size)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	data := &swapEvaluationData{
		DesiredBytes: desiredBytes,
		FstabLine:    fmt.Sprintf("%s none swap sw 0 0", swapCfg.Path),
	}

	if info, err := os.Stat(swapCfg.Path); err == nil {
		data.FileExists = true
		data.SizeMatches = info.Size() == desiredBytes
	} else if !os.IsNotExist(err) {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to stat %s: %w", swapCfg.Path, err))
	}

	active, err := p.swapActive(swapCfg.Path)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read active swaps: %w", err))
	}
	data.Active = active

	inFstab, err := fstabHasEntry(swapCfg.FstabPath(), swapCfg.Path)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read fstab: %w", err))
	}
	data.InFstab = inFstab

	if data.FileExists && data.SizeMatches && data.Active && data.InFstab {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("swap file %s (%s) active and persistent", swapCfg.Path, swapCfg.Size),
			InternalData: data,
		}, nil
	}

	if !data.FileExists {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("swap file %s does not exist", swapCfg.Path),
			Diff:           fmt.Sprintf("Would create %s swap file at %s and persist it", swapCfg.Size, swapCfg.Path),
			InternalData:   data,
		}, nil
	}

	var gaps []string
	if !data.SizeMatches {
		gaps = append(gaps, fmt.Sprintf("resize to %s", swapCfg.Size))
	}
	if !data.Active {
		gaps = append(gaps, "activate")
	}
	if !data.InFstab {
		gaps = append(gaps, "persist in fstab")
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusDrifted,
		RequiresAction: true,
		Message:        fmt.Sprintf("swap file %s needs: %s", swapCfg.Path, strings.Join(gaps, ", ")),
		Diff:           strings.Join(gaps, "\n"),
		InternalData:   data,
	}, nil
}

func (p *swapPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	swapCfg, err := loadSwapConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *swapEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*swapEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*swapEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing swap state"),
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

	rebuild := !data.FileExists || !data.SizeMatches

	if rebuild {
		if data.Active {
			if err := runSwapCommand(ctx, "swapoff", swapCfg.Path); err != nil {
				return failed(step.ID, fmt.Errorf("failed to deactivate %s before resize: %w", swapCfg.Path, err))
			}
			data.Active = false
		}
		if err := runSwapCommand(ctx, "fallocate", "-l", swapCfg.Size, swapCfg.Path); err != nil {
			return failed(step.ID, fmt.Errorf("failed to allocate swap file: %w", err))
		}
		// fallocate never shrinks an existing file; truncate pins the exact
		// size so an oversized file converges instead of re-drifting forever.
		if err := os.Truncate(swapCfg.Path, data.DesiredBytes); err != nil {
			return failed(step.ID, fmt.Errorf("failed to size swap file: %w", err))
		}
		if info, err := os.Stat(swapCfg.Path); err != nil {
			return failed(step.ID, fmt.Errorf("failed to stat swap file after resize: %w", err))
		} else if info.Size() != data.DesiredBytes {
			return failed(step.ID, fmt.Errorf("swap file %s is %d bytes after resize, want %d", swapCfg.Path, info.Size(), data.DesiredBytes))
		}
		// Swap files readable by others are a security hole; the kernel
		// refuses them since 5.x.
		if err := os.Chmod(swapCfg.Path, 0o600); err != nil {
			return failed(step.ID, fmt.Errorf("failed to chmod swap file: %w", err))
		}
		if err := runSwapCommand(ctx, "mkswap", swapCfg.Path); err != nil {
			return failed(step.ID, fmt.Errorf("failed to format swap file: %w", err))
		}
	}

	if !data.Active {
		if err := runSwapCommand(ctx, "swapon", swapCfg.Path); err != nil {
			return failed(step.ID, fmt.Errorf("failed to activate swap file: %w", err))
		}
	}

	if !data.InFstab {
		if err := appendFstabEntry(swapCfg.FstabPath(), data.FstabLine); err != nil {
			return failed(step.ID, fmt.Errorf("swap active but failed to persist in fstab: %w", err))
		}
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("swap file %s (%s) active and persistent", swapCfg.Path, swapCfg.Size),
	}, nil
}

func (p *swapPlugin) swapActive(path string) (bool, error) {
	f, err := os.Open(p.procSwapsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == path {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func fstabHasEntry(fstabPath, swapPath string) (bool, error) {
	f, err := os.Open(fstabPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == swapPath && fields[2] == "swap" {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func appendFstabEntry(fstabPath, line string) error {
	f, err := os.OpenFile(fstabPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// parseSize converts a human size like "3G" or "512M" to bytes.
func parseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, fmt.Errorf("swap size is empty")
	}

	multiplier := int64(1)
	switch size[len(size)-1] {
	case 'K', 'k':
		multiplier = 1 << 10
		size = size[:len(size)-1]
	case 'M', 'm':
		multiplier = 1 << 20
		size = size[:len(size)-1]
	case 'G', 'g':
		multiplier = 1 << 30
		size = size[:len(size)-1]
	case 'T', 't':
		multiplier = 1 << 40
		size = size[:len(size)-1]
	}

	value, err := strconv.ParseInt(size, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid swap size %q", size)
	}
	return value * multiplier, nil
}

func runSwapCommand(ctx context.Context, name string, args ...string) error {
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

func loadSwapConfig(step *config.Step) (*config.SwapStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Swap == nil {
		return nil, fmt.Errorf("swap configuration missing")
	}
	if step.Swap.Path == "" {
		return nil, fmt.Errorf("swap path is empty")
	}
	if step.Swap.Size == "" {
		return nil, fmt.Errorf("swap size is empty")
	}
	return step.Swap, nil
}
