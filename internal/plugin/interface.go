package plugin

import (
	"context"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
)

// Plugin defines the contract every directive kind must satisfy.
//
// A plugin converges one kind of system resource (packages, a systemd unit,
// a file, a firewall rule set) using a two-phase Evaluate/Apply pattern.
type Plugin interface {
	// PluginMetadata returns the plugin's identity and its declared
	// dependencies on other plugins. Declared dependencies make the
	// directive ordering contract explicit instead of relying on list
	// position alone.
	PluginMetadata() PluginMetadata

	// Schema returns the struct describing the YAML payload this plugin's
	// steps carry.
	Schema() any

	// Evaluate performs a strictly read-only probe of the host's current
	// state against the desired state in the step configuration. It must not
	// mutate anything. Host facts (distribution, codename, command
	// availability) arrive through the explicit host parameter, never
	// through ambient process state.
	//
	// A host on which the directive cannot apply (missing tool, unsupported
	// distribution) is reported as model.StatusBlocked, not as an error.
	Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error)

	// Apply mutates the host to match the desired state. Only called when
	// Evaluate reported RequiresAction. Must be idempotent and must not
	// leave a half-applied resource visible at its final location: either
	// the mutation completes or the prior state survives.
	//
	// evalResult is the result of the preceding Evaluate call, including
	// InternalData, so apply does not repeat probe work.
	Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error)
}
