// Package commands defines all Cobra CLI commands for the polai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/audit"
	"github.com/54b3r/polai-go/internal/config"
	"github.com/54b3r/polai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "polai",
		Short: "polai — plain-language answers from your company policy document",
		Long: `polai is a retrieval-augmented assistant for company policy documents.

It ingests one policy document (PDF, plain text, or Markdown), builds a
persistent vector index over its passages, and answers natural-language
questions by retrieving the most relevant passages and asking a hosted
language model to explain them. Answers that nothing in the document
supports are refused rather than invented.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.polai/config.yaml).
See 'polai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.polai/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewBuildCmd(),
		NewDoctorCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
