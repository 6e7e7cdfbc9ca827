// Package cmd provides the kbd CLI command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pieceproject/kbd/pkg/version"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

// NewRootCmd builds the root kbd command: a root command with persistent
// global flags and one subcommand per operational concern (serve, migrate,
// version).
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kbd",
		Short:   "Local-first personal knowledge base with hybrid retrieval",
		Version: version.Version,
		Long: `kbd ingests Markdown, plain-text, and DOCX files into a local
SQLite-backed knowledge base, chunking and embedding them, and exposes
hybrid (title + BM25 + vector) retrieval over MCP. PDF, PPTX, and XLSX
files fail ingest with a "conversion unavailable" error.`,
	}
	cmd.SetVersionTemplate("kbd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override config.json's data_path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
