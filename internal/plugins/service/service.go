package service

import (
	"context"
	"fmt"
	"strings"

	sd "github.com/coreos/go-systemd/v22/dbus"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

// systemdConn is the slice of the systemd D-Bus API this plugin uses.
// Satisfied by *dbus.Conn from go-systemd; tests substitute a fake.
type systemdConn interface {
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []sd.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sd.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ReloadContext(ctx context.Context) error
	Close()
}

type servicePlugin struct {
	connect func(ctx context.Context) (systemdConn, error)
}

// New creates a new service plugin instance talking to systemd over D-Bus.
func New() plugin.Plugin {
	return &servicePlugin{
		connect: func(ctx context.Context) (systemdConn, error) {
			return sd.NewSystemConnectionContext(ctx)
		},
	}
}

var _ plugin.Plugin = (*servicePlugin)(nil)

func (p *servicePlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "service",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{"package"},
		Description:  "Converges systemd units to a desired run and boot state.",
	}
}

func (p *servicePlugin) Schema() any {
	return config.ServiceStep{}
}

type serviceEvaluationData struct {
	UnitName    string
	Active      bool
	Enabled     bool
	NeedsState  bool
	NeedsEnable bool
}

func (p *servicePlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	svcCfg, err := loadServiceConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to connect to systemd: %w", err))
	}
	defer conn.Close()

	unit := unitName(svcCfg.Service)

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read properties of %s: %w", unit, err))
	}

	if loadState(props) == "not-found" {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      fmt.Sprintf("unit %s not present on this host", unit),
		}, nil
	}

	active := propString(props, "ActiveState") == "active"
	enabled := isEnabledState(propString(props, "UnitFileState"))

	wantActive := svcCfg.State == "running"
	wantEnabled := svcCfg.WantEnabled()

	data := &serviceEvaluationData{
		UnitName:    unit,
		Active:      active,
		Enabled:     enabled,
		NeedsState:  active != wantActive,
		NeedsEnable: enabled != wantEnabled,
	}

	if !data.NeedsState && !data.NeedsEnable {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("%s already %s and %s", unit, runStateWord(active), bootStateWord(enabled)),
			InternalData: data,
		}, nil
	}

	var changes []string
	if data.NeedsState {
		changes = append(changes, fmt.Sprintf("run state %s -> %s", runStateWord(active), runStateWord(wantActive)))
	}
	if data.NeedsEnable {
		changes = append(changes, fmt.Sprintf("boot state %s -> %s", bootStateWord(enabled), bootStateWord(wantEnabled)))
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusDrifted,
		RequiresAction: true,
		Message:        fmt.Sprintf("%s needs %s", unit, strings.Join(changes, ", ")),
		Diff:           strings.Join(changes, "\n"),
		InternalData:   data,
	}, nil
}

func (p *servicePlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	svcCfg, err := loadServiceConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *serviceEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*serviceEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*serviceEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing service state"),
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

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to connect to systemd: %w", err))
	}
	defer conn.Close()

	wantEnabled := svcCfg.WantEnabled()
	wantActive := svcCfg.State == "running"

	// Touch only the divergent bits so a unit already half-converged is not
	// churned.
	if data.NeedsEnable {
		if wantEnabled {
			if _, _, err := conn.EnableUnitFilesContext(ctx, []string{data.UnitName}, false, true); err != nil {
				return failed(step.ID, fmt.Errorf("failed to enable %s: %w", data.UnitName, err))
			}
		} else {
			if _, err := conn.DisableUnitFilesContext(ctx, []string{data.UnitName}, false); err != nil {
				return failed(step.ID, fmt.Errorf("failed to disable %s: %w", data.UnitName, err))
			}
		}
		if err := conn.ReloadContext(ctx); err != nil {
			return failed(step.ID, fmt.Errorf("failed to reload systemd after unit file change: %w", err))
		}
	}

	if data.NeedsState {
		done := make(chan string, 1)
		if wantActive {
			if _, err := conn.StartUnitContext(ctx, data.UnitName, "replace", done); err != nil {
				return failed(step.ID, fmt.Errorf("failed to start %s: %w", data.UnitName, err))
			}
		} else {
			if _, err := conn.StopUnitContext(ctx, data.UnitName, "replace", done); err != nil {
				return failed(step.ID, fmt.Errorf("failed to stop %s: %w", data.UnitName, err))
			}
		}
		select {
		case result := <-done:
			if result != "done" && result != "skipped" {
				return failed(step.ID, fmt.Errorf("systemd job for %s finished with result %q", data.UnitName, result))
			}
		case <-ctx.Done():
			return failed(step.ID, fmt.Errorf("timed out waiting for systemd job on %s: %w", data.UnitName, ctx.Err()))
		}
	}

	// Re-probe so divergence from expected state surfaces immediately
	// instead of on the next run. A unit that reports the wrong run state
	// after its job finished is a failure, not a success with a footnote.
	if props, err := conn.GetUnitPropertiesContext(ctx, data.UnitName); err == nil {
		nowActive := propString(props, "ActiveState") == "active"
		if nowActive != wantActive {
			return failed(step.ID, fmt.Errorf("%s reports %s after apply, want %s",
				data.UnitName, runStateWord(nowActive), runStateWord(wantActive)))
		}
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("%s is %s and %s", data.UnitName, runStateWord(wantActive), bootStateWord(wantEnabled)),
	}, nil
}

func failed(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

func loadServiceConfig(step *config.Step) (*config.ServiceStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Service == nil {
		return nil, fmt.Errorf("service configuration missing")
	}
	if step.Service.Service == "" {
		return nil, fmt.Errorf("service name is empty")
	}
	switch step.Service.State {
	case "running", "stopped":
	default:
		return nil, fmt.Errorf("invalid service state %q", step.Service.State)
	}
	return step.Service, nil
}

func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func loadState(props map[string]interface{}) string {
	return propString(props, "LoadState")
}

func propString(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func isEnabledState(state string) bool {
	switch state {
	case "enabled", "enabled-runtime", "static", "alias", "linked":
		return true
	}
	return false
}

func runStateWord(active bool) string {
	if active {
		return "running"
	}
	return "stopped"
}

func bootStateWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
