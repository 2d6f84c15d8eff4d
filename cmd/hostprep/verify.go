package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/hostprep/hostprep/internal/engine"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/logger"
	"github.com/hostprep/hostprep/internal/model"
)

type verifyOptions struct {
	ConfigPath string
	Verbose    bool
}

var verifyCmdRunner = runVerify

func newVerifyCmd(root *rootFlags) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report drift between host state and the declared configuration",
		Long: `Verify probes every directive without mutating the host. Exit code 0 means
every directive is satisfied, 1 means apply would make changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath, _ = cmd.Flags().GetString("config")
			opts.Verbose = root.verbose

			return verifyCmdRunner(opts)
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to a provisioning profile (defaults to the embedded profile)")

	return cmd
}

func runVerify(opts verifyOptions) error {
	cfg, err := loadProfile(opts.ConfigPath)
	if err != nil {
		return err
	}

	host, err := hostinfo.Gather()
	if err != nil {
		return err
	}

	graph, err := engine.BuildDAG(cfg.Steps)
	if err != nil {
		return err
	}

	plan, err := engine.GeneratePlan(graph)
	if err != nil {
		return err
	}

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true, Writer: os.Stderr})
	if err != nil {
		return err
	}

	execCtx := &engine.ExecutionContext{
		Config:   cfg,
		Host:     host,
		Registry: getAppRegistry(),
		Logger:   log,
		Context:  context.Background(),
	}

	summary, err := engine.Verify(execCtx, plan)
	if err != nil {
		return err
	}

	renderVerifyTable(os.Stdout, summary)
	if opts.Verbose {
		renderVerifyDetails(os.Stdout, summary)
	}

	os.Exit(summary.ExitCode())
	return nil
}

func renderVerifyTable(out *os.File, summary *model.VerificationSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"STEP", "STATUS", "DURATION", "MESSAGE"})

	for _, result := range summary.Results {
		t.AppendRow(table.Row{
			result.StepID,
			statusCell(result.Status),
			fmt.Sprintf("%.2fs", result.Duration.Seconds()),
			text.WrapSoft(result.Message, 60),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d steps", summary.TotalSteps),
		fmt.Sprintf("%d satisfied / %d missing / %d drifted / %d blocked / %d unknown",
			summary.Satisfied, summary.Missing, summary.Drifted, summary.Blocked, summary.Unknown),
		fmt.Sprintf("%.2fs", summary.Duration.Seconds()),
		"",
	})
	t.Render()

	if summary.NeedsApply() {
		fmt.Fprintln(out, "Changes needed, run 'hostprep apply' to converge")
	} else if summary.AllSatisfied() {
		fmt.Fprintln(out, "All directives satisfied, nothing to do")
	} else {
		fmt.Fprintln(out, "All applicable directives satisfied, nothing to do")
	}
}

func renderVerifyDetails(out *os.File, summary *model.VerificationSummary) {
	for _, result := range summary.Results {
		if result.Status == model.StatusDrifted && result.Details != "" {
			fmt.Fprintf(out, "\n--- %s ---\n%s\n", result.StepID, result.Details)
		}
		if result.Status == model.StatusUnknown && result.Error != nil {
			fmt.Fprintf(out, "\n--- %s ---\nprobe error: %v\n", result.StepID, result.Error)
		}
	}
}

func statusCell(status model.VerificationStatus) string {
	switch status {
	case model.StatusSatisfied:
		return text.FgGreen.Sprint(status)
	case model.StatusMissing, model.StatusDrifted:
		return text.FgYellow.Sprint(status)
	case model.StatusBlocked:
		return text.FgHiBlack.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}
