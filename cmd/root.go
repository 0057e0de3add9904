package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the vibelink application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vibelink",
	Short: "Expose a local MCP tool server through an authenticated tunnel",
	Long: `vibelink runs an MCP tool server for the current project directory and
publishes it through a cloudflared tunnel behind an OAuth-protected gateway,
so a remote AI assistant can work against your local checkout.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "vibelink version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
