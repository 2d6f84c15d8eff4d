package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
	dryRun  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "hostprep",
		Short:         "hostprep converges a Debian/Ubuntu host onto a declared configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Preview changes without mutating the host")

	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newVerifyCmd(flags))
	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
