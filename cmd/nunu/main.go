// Nunu is a conversational companion for in-game chat.
//
// Configuration is read from environment variables (see config.go); a few
// common settings can be overridden with flags. Subcommands:
//
//	nunu run              connect to Matrix and answer in the bound rooms
//	nunu console          read "kind|sender|text" lines from stdin
//	nunu ask <question>   answer one question and exit
//	nunu persona check    validate a persona file
//	nunu version          print build information
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/common/environment"
	"github.com/bdobrica/nunu/common/version"
	"github.com/bdobrica/nunu/internal/nunu/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	cmd := &cobra.Command{
		Use:           "nunu",
		Short:         "Nunu, a lore-friendly chat companion",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			observability.Setup(logLevel, logFormat)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", environment.StringOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", environment.StringOr("LOG_FORMAT", "text"), "text or json")
	cmd.PersistentFlags().String("persona", "", "persona file (overrides NUNU_PERSONA_FILE)")
	cmd.PersistentFlags().Bool("llm", false, "delegate answers to the completion provider (overrides LLM_ENABLED)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConsoleCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newPersonaCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.Info())
		},
	})
	return cmd
}
