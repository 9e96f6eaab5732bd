package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var noColor bool

	root := &cobra.Command{
		Use:   "tfmt",
		Short: "Transcription formatter command service",
		Long: `tfmt serves the transcription formatter's command catalog over
loopback HTTP and MCP stdio, and talks to a running instance from the
command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringP("format", "o", formatText, "output format: text, json or yaml")

	root.AddCommand(
		newServeCmd(),
		newStopCmd(),
		newStatusCmd(),
		newCallCmd(),
		newHistoryCmd(),
		newModelsCmd(),
		newConfigCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root
}

func outputFormat(cmd *cobra.Command) (string, error) {
	f, _ := cmd.Flags().GetString("format")
	switch f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", f)
}
