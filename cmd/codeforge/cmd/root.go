package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var workspaceRoot string

// RootCmd silences cobra's default error/usage printing so subcommands
// control their own output, and exposes a persistent --workspace flag
// resolving the root every subcommand operates against.
var RootCmd = &cobra.Command{
	Use:           "codeforge [command] [flags]",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&workspaceRoot, "workspace", ".", "workspace root directory")

	RootCmd.AddCommand(applyCmd)
	RootCmd.AddCommand(queryCmd)
	RootCmd.AddCommand(indexCmd)
	RootCmd.AddCommand(doctorCmd)
}

func bold(s string) string { return color.New(color.Bold).Sprint(s) }
