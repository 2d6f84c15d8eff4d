package engine

import (
	"context"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/logger"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

// ExecutionContext carries the runtime state for a reconciliation run.
type ExecutionContext struct {
	Config          *config.Config
	Host            *hostinfo.Host
	Registry        *plugin.PluginRegistry
	DryRun          bool
	Verbose         bool
	ContinueOnError bool
	Results         map[string]*model.StepResult
	Logger          *logger.Logger
	Context         context.Context

	// OnStepStart and OnStepComplete feed progress to the UI layer. Either
	// may be nil.
	OnStepStart    func(stepID string)
	OnStepComplete func(result model.StepResult)
}
