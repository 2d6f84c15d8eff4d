package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/model"
	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

// Execute walks the plan strictly in order, one step at a time, and returns
// the step results in execution order.
//
// Directive failures are non-fatal by design: the failed step gets a failed
// result, a warning is logged, and the run continues with the next step
// (unless the profile opts out via continue_on_error: false). Execute only
// returns an error for infrastructure problems (nil context, unregistered
// plugin) or when a failure occurs with continue_on_error disabled.
func Execute(execCtx *ExecutionContext, plan *ExecutionPlan) ([]model.StepResult, error) {
	if execCtx == nil {
		return nil, hosterrors.NewExecutionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Config == nil {
		return nil, hosterrors.NewExecutionError("", fmt.Errorf("execution context config is nil"))
	}
	if plan == nil {
		return nil, hosterrors.NewExecutionError("", fmt.Errorf("execution plan is nil"))
	}

	baseCtx := execCtx.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	timeoutDuration := time.Duration(execCtx.Config.Settings.Timeout) * time.Second

	stepLookup := make(map[string]*config.Step, len(execCtx.Config.Steps))
	for i := range execCtx.Config.Steps {
		step := &execCtx.Config.Steps[i]
		stepLookup[step.ID] = step
	}

	if execCtx.Results == nil {
		execCtx.Results = make(map[string]*model.StepResult)
	}

	var allResults []model.StepResult

	for _, stepID := range plan.StepIDs {
		step, ok := stepLookup[stepID]
		if !ok {
			return allResults, hosterrors.NewExecutionError(stepID, fmt.Errorf("step not found"))
		}

		if execCtx.OnStepStart != nil {
			execCtx.OnStepStart(step.ID)
		}

		res, err := executeStep(ctx, execCtx, step, timeoutDuration)
		if res == nil {
			res = &model.StepResult{StepID: step.ID, Status: model.StatusFailed, Error: err, Timestamp: time.Now()}
		}

		execCtx.Results[step.ID] = res
		allResults = append(allResults, *res)

		if execCtx.OnStepComplete != nil {
			execCtx.OnStepComplete(*res)
		}

		if err != nil {
			execCtx.Logger.WithStep(step.ID).WarnErr(err, "step failed, continuing with remaining steps")
			if !execCtx.ContinueOnError {
				return allResults, err
			}
		}

		if ctx.Err() != nil {
			return allResults, hosterrors.NewExecutionError(step.ID, ctx.Err())
		}
	}

	return allResults, nil
}

// executeStep runs a single step's evaluate/apply cycle. The returned error
// reports a directive failure; the result is always populated.
func executeStep(ctx context.Context, execCtx *ExecutionContext, step *config.Step, timeout time.Duration) (*model.StepResult, error) {
	stepCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	impl, err := execCtx.Registry.Get(step.Type)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	evalResult, err := impl.Evaluate(stepCtx, execCtx.Host, step)
	if err != nil {
		return &model.StepResult{
			StepID:    step.ID,
			Status:    model.StatusFailed,
			Message:   fmt.Sprintf("evaluation failed: %v", err),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err,
		}, fmt.Errorf("evaluation failed for step %s: %w", step.ID, err)
	}

	var result *model.StepResult
	var applyErr error

	switch {
	case evalResult.CurrentState == model.StatusBlocked:
		// Inapplicable on this host: satisfied by inapplicability. A blocked
		// evaluation can still request action when leftover artifacts need
		// cleaning up, so the plugin gets its apply pass before the step is
		// reported unsupported.
		if evalResult.RequiresAction && !execCtx.DryRun {
			result, applyErr = impl.Apply(stepCtx, execCtx.Host, evalResult, step)
		} else {
			result = &model.StepResult{
				StepID:    evalResult.StepID,
				Status:    model.StatusUnsupported,
				Message:   evalResult.Message,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
		}
		execCtx.Logger.WithStep(step.ID).Warn(evalResult.Message)

	case execCtx.DryRun:
		if evalResult.RequiresAction {
			status := model.StatusWouldUpdate
			if evalResult.CurrentState == model.StatusMissing {
				status = model.StatusWouldCreate
			}
			result = &model.StepResult{
				StepID:    evalResult.StepID,
				Status:    status,
				Message:   evalResult.Message,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
		} else {
			result = &model.StepResult{
				StepID:    evalResult.StepID,
				Status:    model.StatusSkipped,
				Message:   evalResult.Message,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
		}

	case evalResult.RequiresAction:
		result, applyErr = impl.Apply(stepCtx, execCtx.Host, evalResult, step)

	default:
		result = &model.StepResult{
			StepID:    evalResult.StepID,
			Status:    model.StatusSkipped,
			Message:   evalResult.Message,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
	}

	if result == nil {
		result = &model.StepResult{StepID: step.ID}
	}
	if result.StepID == "" {
		result.StepID = step.ID
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	if applyErr != nil {
		if result.Status == "" || result.Status == model.StatusPending {
			result.Status = model.StatusFailed
		}
		if result.Error == nil {
			result.Error = applyErr
		}
		return result, fmt.Errorf("apply failed for step %s: %w", step.ID, applyErr)
	}

	return result, nil
}

// Verify probes every step in plan order without mutating the host.
func Verify(execCtx *ExecutionContext, plan *ExecutionPlan) (*model.VerificationSummary, error) {
	if execCtx == nil || execCtx.Config == nil || plan == nil {
		return nil, hosterrors.NewExecutionError("", fmt.Errorf("verification context is incomplete"))
	}

	ctx := execCtx.Context
	if ctx == nil {
		ctx = context.Background()
	}

	stepLookup := make(map[string]*config.Step, len(execCtx.Config.Steps))
	for i := range execCtx.Config.Steps {
		step := &execCtx.Config.Steps[i]
		stepLookup[step.ID] = step
	}

	summary := &model.VerificationSummary{}
	runStart := time.Now()

	for _, stepID := range plan.StepIDs {
		step, ok := stepLookup[stepID]
		if !ok {
			return summary, hosterrors.NewExecutionError(stepID, fmt.Errorf("step not found"))
		}

		impl, err := execCtx.Registry.Get(step.Type)
		if err != nil {
			return summary, err
		}

		start := time.Now()
		evalResult, err := impl.Evaluate(ctx, execCtx.Host, step)
		if err != nil {
			summary.Add(model.VerificationResult{
				StepID:    step.ID,
				Status:    model.StatusUnknown,
				Message:   fmt.Sprintf("probe failed: %v", err),
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     err,
			})
			continue
		}

		summary.Add(model.VerificationResult{
			StepID:    evalResult.StepID,
			Status:    evalResult.CurrentState,
			Message:   evalResult.Message,
			Details:   evalResult.Diff,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		})
	}

	summary.Duration = time.Since(runStart)
	return summary, nil
}
