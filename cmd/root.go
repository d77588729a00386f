package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the sheetsproxy application
var rootCmd = &cobra.Command{
	Use:   "sheetsproxy",
	Short: "Google Sheets proxy with per-user OAuth credentials",
	Long: `sheetsproxy exposes Google Sheets operations over REST and the Model
Context Protocol (MCP). Callers authenticate with an MCP bearer token which
is mapped to a stored Google OAuth credential.

It can run as:
  - An MCP server over stdio or streamable HTTP
  - A REST proxy with the OAuth authorization flow`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "sheetsproxy version %s\n" .Version}}`)

	// A missing .env is normal; only flags and the real environment apply then.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
