package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/engine"
)

var planCmdRunner = runPlan

func newPlanCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved execution order without touching the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return planCmdRunner(path)
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to a provisioning profile (defaults to the embedded profile)")

	return cmd
}

func runPlan(configPath string) error {
	cfg, err := loadProfile(configPath)
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

	renderPlanTable(cfg, plan)
	return nil
}

func renderPlanTable(cfg *config.Config, plan *engine.ExecutionPlan) {
	steps := config.StepMap(cfg.Steps)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "LEVEL", "STEP", "TYPE", "DEPENDS ON"})

	position := 0
	for levelIdx, level := range plan.Levels {
		for _, id := range level {
			position++
			step := steps[id]
			t.AppendRow(table.Row{
				position,
				strconv.Itoa(levelIdx),
				id,
				step.Type,
				strings.Join(step.DependsOn, ", "),
			})
		}
	}

	t.Render()
}
