package lineinfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type lineInFilePlugin struct{}

// New creates a new line_in_file plugin instance.
func New() plugin.Plugin {
	return &lineInFilePlugin{}
}

var _ plugin.Plugin = (*lineInFilePlugin)(nil)

func (p *lineInFilePlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "line_in_file",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Ensures a line is present in, rewritten within, or absent from a file.",
	}
}

func (p *lineInFilePlugin) Schema() any {
	return config.LineInFileStep{}
}

type lineInFileEvaluationData struct {
	FileExists bool
	NewContent string
	Mode       os.FileMode
	UID        int
	GID        int
	HasOwner   bool
}

func (p *lineInFilePlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	lifCfg, err := loadLineInFileConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var matcher *regexp.Regexp
	if lifCfg.Match != "" {
		matcher, err = regexp.Compile(lifCfg.Match)
		if err != nil {
			return nil, plugin.NewValidationError(step.ID, fmt.Errorf("invalid match pattern: %w", err))
		}
	}

	state := lifCfg.State
	if state == "" {
		state = "present"
	}

	data := &lineInFileEvaluationData{Mode: 0o644}

	raw, readErr := os.ReadFile(lifCfg.File)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read %s: %w", lifCfg.File, readErr))
		}
		if state == "absent" {
			return &model.EvaluationResult{
				StepID:       step.ID,
				CurrentState: model.StatusSatisfied,
				Message:      fmt.Sprintf("%s does not exist, nothing to remove", lifCfg.File),
			}, nil
		}
		data.NewContent = lifCfg.Line + "\n"
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s does not exist", lifCfg.File),
			Diff:           fmt.Sprintf("Would create %s with:\n%s", lifCfg.File, lifCfg.Line),
			InternalData:   data,
		}, nil
	}

	data.FileExists = true
	if info, err := os.Stat(lifCfg.File); err == nil {
		data.Mode = info.Mode().Perm()
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			data.UID = int(stat.Uid)
			data.GID = int(stat.Gid)
			data.HasOwner = true
		}
	}

	lines, trailingNewline := splitLines(string(raw))

	switch state {
	case "present":
		newLines, changed, desc := ensurePresent(lines, lifCfg.Line, matcher)
		if !changed {
			return &model.EvaluationResult{
				StepID:       step.ID,
				CurrentState: model.StatusSatisfied,
				Message:      fmt.Sprintf("%s already contains the desired line", lifCfg.File),
			}, nil
		}
		data.NewContent = joinLines(newLines, trailingNewline || len(lines) == 0)
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s: %s", lifCfg.File, desc),
			Diff:           desc,
			InternalData:   data,
		}, nil

	default: // absent
		newLines, removed := removeMatching(lines, lifCfg.Line, matcher)
		if removed == 0 {
			return &model.EvaluationResult{
				StepID:       step.ID,
				CurrentState: model.StatusSatisfied,
				Message:      fmt.Sprintf("%s already lacks the line", lifCfg.File),
			}, nil
		}
		data.NewContent = joinLines(newLines, trailingNewline)
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s contains %d line(s) to remove", lifCfg.File, removed),
			Diff:           fmt.Sprintf("Would remove %d line(s)", removed),
			InternalData:   data,
		}, nil
	}
}

func (p *lineInFilePlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	lifCfg, err := loadLineInFileConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *lineInFileEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*lineInFileEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		if !evalResult.RequiresAction {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusSkipped,
				Message: "no changes needed",
			}, nil
		}
		typed, ok := evalResult.InternalData.(*lineInFileEvaluationData)
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

	if err := writeFileAtomic(lifCfg.File, []byte(data.NewContent), data.Mode); err != nil {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: fmt.Sprintf("failed to write %s: %v", lifCfg.File, err),
			Error:   err,
		}, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to write %s: %w", lifCfg.File, err))
	}

	// Rewriting replaces the inode, so restore ownership. An explicit owner
	// wins over the previous one; .zshrc edits run as root but the file must
	// stay the user's.
	if err := restoreOwner(host, lifCfg, data); err != nil {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: fmt.Sprintf("wrote %s but failed to restore ownership: %v", lifCfg.File, err),
			Error:   err,
		}, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to restore ownership of %s: %w", lifCfg.File, err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("updated %s", lifCfg.File),
	}, nil
}

func restoreOwner(host *hostinfo.Host, cfg *config.LineInFileStep, data *lineInFileEvaluationData) error {
	if cfg.Owner != "" {
		u, err := host.LookupUser(cfg.Owner)
		if err != nil {
			return err
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return err
		}
		gid, err := strconv.Atoi(u.Gid)
		if err != nil {
			return err
		}
		return chownIfPermitted(cfg.File, uid, gid)
	}
	if data.HasOwner {
		return chownIfPermitted(cfg.File, data.UID, data.GID)
	}
	return nil
}

func chownIfPermitted(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return err
	}
	return nil
}

func ensurePresent(lines []string, line string, matcher *regexp.Regexp) (result []string, changed bool, desc string) {
	if matcher != nil {
		for i, l := range lines {
			if matcher.MatchString(l) {
				if l == line {
					return lines, false, ""
				}
				out := append([]string(nil), lines...)
				out[i] = line
				return out, true, fmt.Sprintf("would rewrite matching line %d", i+1)
			}
		}
	}
	for _, l := range lines {
		if l == line {
			return lines, false, ""
		}
	}
	return append(append([]string(nil), lines...), line), true, "would append line"
}

func removeMatching(lines []string, line string, matcher *regexp.Regexp) (result []string, removed int) {
	for _, l := range lines {
		match := l == line
		if matcher != nil {
			match = matcher.MatchString(l)
		}
		if match {
			removed++
			continue
		}
		result = append(result, l)
	}
	return result, removed
}

func splitLines(content string) (lines []string, trailingNewline bool) {
	if content == "" {
		return nil, false
	}
	trailingNewline = strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n"), trailingNewline
}

func joinLines(lines []string, trailing bool) string {
	if len(lines) == 0 {
		if trailing {
			return "\n"
		}
		return ""
	}
	joined := strings.Join(lines, "\n")
	if trailing {
		return joined + "\n"
	}
	return joined
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lineinfile-*")
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

func loadLineInFileConfig(step *config.Step) (*config.LineInFileStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.LineInFile == nil {
		return nil, fmt.Errorf("line_in_file configuration missing")
	}
	cfg := step.LineInFile
	if cfg.File == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	state := cfg.State
	if state == "" {
		state = "present"
	}
	if state == "present" && cfg.Line == "" {
		return nil, fmt.Errorf("state present requires a line")
	}
	if state == "absent" && cfg.Line == "" && cfg.Match == "" {
		return nil, fmt.Errorf("state absent requires a line or a match pattern")
	}
	return cfg, nil
}
