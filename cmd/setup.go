package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// setupCmd prints the walkthrough for getting a stable tunnel domain.
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Show how to set up a persistent tunnel with a stable domain",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), setupGuide)
	},
}

const setupGuide = `Persistent tunnel setup

Quick tunnels work with zero setup, but their domain changes on every start
and creation is rate limited. A persistent tunnel gives you a stable domain.

1. Install cloudflared:
     macOS:  brew install cloudflared
     Linux:  https://pkg.cloudflare.com/ (or your package manager)

2. Log in with your Cloudflare account (free tier is fine):
     cloudflared tunnel login

   This opens a browser; pick any zone. The credentials land in
   ~/.cloudflared/.

3. Start vibelink:
     vibelink start

   Once logged in, vibelink creates and reuses a named tunnel
   automatically. Use --tunnel <name> to pick a specific one, or
   --quick to force an ephemeral tunnel anyway.

The session URL path stays the same across restarts either way; only the
domain is affected by the tunnel type.
`

func init() {
	rootCmd.AddCommand(setupCmd)
}
