package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hostprep/hostprep/internal/engine"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/logger"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/tui"
	validationpkg "github.com/hostprep/hostprep/internal/validation"
	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

type applyOptions struct {
	ConfigPath     string
	DryRun         bool
	Verbose        bool
	NonInteractive bool
}

var applyCmdRunner = runApply

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the host onto the declared configuration",
		Long: `Apply probes every directive in dependency order and performs the minimal
mutation where state diverges. Without --config the embedded default profile
is used. Requires root unless --dry-run is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DryRun = root.dryRun
			opts.Verbose = root.verbose
			opts.NonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))

			return applyCmdRunner(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to a provisioning profile (defaults to the embedded profile)")

	return cmd
}

func runApply(opts applyOptions) error {
	cfg, err := loadProfile(opts.ConfigPath)
	if err != nil {
		return err
	}

	host, err := hostinfo.Gather()
	if err != nil {
		return err
	}

	effectiveDryRun := opts.DryRun || cfg.Settings.DryRun
	effectiveVerbose := opts.Verbose || cfg.Settings.Verbose

	if !effectiveDryRun && !host.IsRoot() {
		return hosterrors.NewPrivilegeError(host.EUID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	graph, err := engine.BuildDAG(cfg.Steps)
	if err != nil {
		return err
	}

	plan, err := engine.GeneratePlan(graph)
	if err != nil {
		return err
	}

	level := "info"
	if effectiveVerbose {
		level = "debug"
	}

	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return err
	}

	modelState := tui.NewModel(cfg, plan, opts.NonInteractive)
	interactive := !opts.NonInteractive

	var program *tea.Program
	var programErr error
	done := make(chan struct{})

	if interactive {
		program = tea.NewProgram(modelState)
		go func() {
			_, programErr = program.Run()
			close(done)
		}()
	}

	execCtx := &engine.ExecutionContext{
		Config:          cfg,
		Host:            host,
		Registry:        getAppRegistry(),
		DryRun:          effectiveDryRun,
		Verbose:         effectiveVerbose,
		ContinueOnError: cfg.Settings.WantContinueOnError(),
		Results:         make(map[string]*model.StepResult),
		Logger:          log,
		Context:         ctx,
		OnStepStart: func(stepID string) {
			dispatchTuiMessage(interactive, program, &modelState, tui.StepStartMsg{ID: stepID, Time: time.Now()})
		},
		OnStepComplete: func(result model.StepResult) {
			dispatchTuiMessage(interactive, program, &modelState, tui.StepCompleteMsg{Result: result})
		},
	}

	_, execErr := engine.Execute(execCtx, plan)

	var valErr error
	if execErr == nil && !effectiveDryRun && len(cfg.Validations) > 0 {
		validationResults, err := validationpkg.RunValidations(ctx, host, cfg.Validations)
		valErr = err
		for _, vr := range validationResults {
			dispatchTuiMessage(interactive, program, &modelState, tui.ValidationMsg{Passed: vr.Passed, Message: vr.Message})
		}
	}

	if interactive {
		if program != nil {
			program.Send(tea.QuitMsg{})
		}
		<-done
		if programErr != nil {
			return programErr
		}
	} else {
		fmt.Fprintln(os.Stdout, modelState.View())
	}

	if execErr != nil {
		return execErr
	}
	if valErr != nil {
		log.WarnErr(valErr, "post-run validations reported failures")
	}

	return nil
}

func dispatchTuiMessage(interactive bool, program *tea.Program, state *tui.Model, msg tea.Msg) {
	if interactive {
		if program != nil {
			program.Send(msg)
		}
		return
	}

	updated, _ := state.Update(msg)
	if m, ok := updated.(tui.Model); ok {
		*state = m
	}
}
