package firewall

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type firewallPlugin struct{}

// New creates a new firewall plugin instance driving ufw.
func New() plugin.Plugin {
	return &firewallPlugin{}
}

var _ plugin.Plugin = (*firewallPlugin)(nil)

func (p *firewallPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "firewall",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{"package"},
		Description:  "Converges ufw default policies, allow rules and activation.",
	}
}

func (p *firewallPlugin) Schema() any {
	return config.FirewallStep{}
}

// ufwAction is one ufw invocation apply will perform, in order.
type ufwAction struct {
	Args        []string
	Description string
}

type firewallEvaluationData struct {
	Actions []ufwAction
}

// ufwState is the parsed output of "ufw status verbose".
type ufwState struct {
	Active          bool
	DefaultIncoming string
	DefaultOutgoing string
	Rules           []ufwRule
}

type ufwRule struct {
	To     string
	Action string
	From   string
}

func (p *firewallPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	fwCfg, err := loadFirewallConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if !host.HasCommand("ufw") {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusBlocked,
			Message:      "ufw not found on this host",
		}, nil
	}

	state, err := probeUfw(ctx)
	if err != nil {
		return nil, plugin.NewExecutionError(step.ID, fmt.Errorf("failed to read ufw status: %w", err))
	}

	actions := planActions(fwCfg, state)

	if len(actions) == 0 {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      "firewall already converged",
			InternalData: &firewallEvaluationData{},
		}, nil
	}

	currentState := model.StatusDrifted
	if !state.Active {
		currentState = model.StatusMissing
	}

	var diff strings.Builder
	for _, a := range actions {
		diff.WriteString(a.Description)
		diff.WriteByte('\n')
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   currentState,
		RequiresAction: true,
		Message:        fmt.Sprintf("firewall needs %d change(s)", len(actions)),
		Diff:           strings.TrimRight(diff.String(), "\n"),
		InternalData:   &firewallEvaluationData{Actions: actions},
	}, nil
}

func (p *firewallPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	if _, err := loadFirewallConfig(step); err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *firewallEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*firewallEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		var err error
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*firewallEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing firewall actions"),
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

	for _, action := range data.Actions {
		cmd := exec.CommandContext(ctx, "ufw", action.Args...)
		if res, err := execx.RunStreaming(cmd); err != nil {
			out := execx.PrimaryOutput(res)
			actionErr := fmt.Errorf("%s failed: %w", action.Description, err)
			if out != "" {
				actionErr = fmt.Errorf("%s failed: %w: %s", action.Description, err, out)
			}
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: actionErr.Error(),
				Error:   actionErr,
			}, plugin.NewExecutionError(step.ID, actionErr)
		}
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("applied %d firewall change(s)", len(data.Actions)),
	}, nil
}

// planActions compares the desired rule set against the probed state and
// emits the ufw invocations needed, defaults first, enable last. Re-adding
// an existing rule would be harmless, ufw deduplicates, but skipping it keeps
// the plan honest for dry runs.
func planActions(cfg *config.FirewallStep, state *ufwState) []ufwAction {
	var actions []ufwAction

	if cfg.DefaultIncoming != "" && (!state.Active || state.DefaultIncoming != cfg.DefaultIncoming) {
		actions = append(actions, ufwAction{
			Args:        []string{"default", cfg.DefaultIncoming, "incoming"},
			Description: fmt.Sprintf("set default incoming policy to %s", cfg.DefaultIncoming),
		})
	}
	if cfg.DefaultOutgoing != "" && (!state.Active || state.DefaultOutgoing != cfg.DefaultOutgoing) {
		actions = append(actions, ufwAction{
			Args:        []string{"default", cfg.DefaultOutgoing, "outgoing"},
			Description: fmt.Sprintf("set default outgoing policy to %s", cfg.DefaultOutgoing),
		})
	}

	for _, rule := range cfg.AllowFrom {
		if state.Active && state.hasSourceRule(rule.From, rule.Port) {
			continue
		}
		actions = append(actions, ufwAction{
			Args:        []string{"allow", "from", rule.From, "to", "any", "port", strconv.Itoa(rule.Port)},
			Description: fmt.Sprintf("allow %s to port %d", rule.From, rule.Port),
		})
	}

	for _, rule := range cfg.AllowPorts {
		spec := portSpec(rule)
		if state.Active && state.hasPortRule(spec) {
			continue
		}
		actions = append(actions, ufwAction{
			Args:        []string{"allow", spec},
			Description: fmt.Sprintf("allow port %s", spec),
		})
	}

	if !state.Active {
		actions = append(actions, ufwAction{
			Args:        []string{"--force", "enable"},
			Description: "enable firewall",
		})
	}

	return actions
}

func portSpec(rule config.FirewallPortRule) string {
	if rule.Proto != "" {
		return fmt.Sprintf("%d/%s", rule.Port, rule.Proto)
	}
	return strconv.Itoa(rule.Port)
}

func (s *ufwState) hasSourceRule(from string, port int) bool {
	want := strconv.Itoa(port)
	for _, r := range s.Rules {
		if !strings.HasPrefix(r.Action, "ALLOW") {
			continue
		}
		to := strings.TrimSuffix(strings.TrimSuffix(r.To, "/tcp"), "/udp")
		if to == want && r.From == from {
			return true
		}
	}
	return false
}

func (s *ufwState) hasPortRule(spec string) bool {
	bare := strings.TrimSuffix(strings.TrimSuffix(spec, "/tcp"), "/udp")
	for _, r := range s.Rules {
		if !strings.HasPrefix(r.Action, "ALLOW") {
			continue
		}
		if r.From != "Anywhere" && r.From != "Anywhere (v6)" {
			continue
		}
		if r.To == spec || r.To == bare {
			return true
		}
	}
	return false
}

func probeUfw(ctx context.Context) (*ufwState, error) {
	cmd := exec.CommandContext(ctx, "ufw", "status", "verbose")
	res, err := execx.RunQuiet(cmd)
	if err != nil {
		return nil, err
	}
	return parseUfwStatus(res.Stdout), nil
}

func parseUfwStatus(out string) *ufwState {
	state := &ufwState{}
	inRules := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Status:"):
			state.Active = strings.Contains(line, "active")
		case strings.HasPrefix(line, "Default:"):
			state.DefaultIncoming, state.DefaultOutgoing = parseDefaults(line)
		case strings.HasPrefix(line, "To ") || strings.HasPrefix(line, "--"):
			inRules = true
		case inRules && line != "":
			if rule, ok := parseRuleLine(line); ok {
				state.Rules = append(state.Rules, rule)
			}
		}
	}

	return state
}

// parseDefaults reads a line like
// "Default: deny (incoming), allow (outgoing), disabled (routed)".
func parseDefaults(line string) (incoming, outgoing string) {
	line = strings.TrimPrefix(line, "Default:")
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		policy := fields[0]
		switch strings.Trim(fields[1], "()") {
		case "incoming":
			incoming = policy
		case "outgoing":
			outgoing = policy
		}
	}
	return incoming, outgoing
}

// parseRuleLine reads a rule row like "2222/tcp  ALLOW IN  203.0.113.10".
// The From column may contain "Anywhere (v6)", so only the first two columns
// split cleanly on whitespace.
func parseRuleLine(line string) (ufwRule, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return ufwRule{}, false
	}

	rule := ufwRule{To: fields[0]}
	rest := fields[1:]
	if len(rest) >= 2 && (rest[1] == "IN" || rest[1] == "OUT") {
		rule.Action = rest[0] + " " + rest[1]
		rest = rest[2:]
	} else {
		rule.Action = rest[0]
		rest = rest[1:]
	}
	rule.From = strings.Join(rest, " ")

	if rule.From == "" {
		return ufwRule{}, false
	}
	return rule, true
}

func loadFirewallConfig(step *config.Step) (*config.FirewallStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Firewall == nil {
		return nil, fmt.Errorf("firewall configuration missing")
	}
	if step.Firewall.DefaultIncoming == "" && step.Firewall.DefaultOutgoing == "" &&
		len(step.Firewall.AllowFrom) == 0 && len(step.Firewall.AllowPorts) == 0 {
		return nil, fmt.Errorf("firewall step declares no policies or rules")
	}
	return step.Firewall, nil
}
