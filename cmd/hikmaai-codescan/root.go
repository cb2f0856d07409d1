// ABOUTME: Root command for hikmaai-codescan CLI
// ABOUTME: Sets up global flags and subcommands

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Global flags.
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hikmaai-codescan",
		Short: "HikmaAI CodeScan - malware and generative analysis of source files",
		Long: `HikmaAI CodeScan fans each source file out to malware-scan providers
(VirusTotal, Hybrid Analysis, MalShare) and a generative backend (Gemini or an
OpenAI-compatible endpoint), then joins every answer into one result per file.

A failing provider marks only its own slot; the other results are kept.
Supports one-shot CLI analysis, an interactive chat assistant, and daemon mode
with an HTTP API and NATS request/reply.`,
		SilenceUsage: true,
	}

	// Global flags.
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/hikmaai-codescan/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text); overrides the config file")

	// Add subcommands.
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hikmaai-codescan version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}
