package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vibelink/internal/app"
	"vibelink/pkg/logging"
)

var (
	startPort         int
	startQuick        bool
	startNoTunnel     bool
	startNoReuse      bool
	startResetUUID    bool
	startNoAuth       bool
	startTunnelName   string
	startAllowedPaths []string
	startDebug        bool
)

// startCmd runs the tool server and the gateway for the current directory.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tool server and publish it through a tunnel",
	Long: `Start the MCP tool server for the current directory, establish a public
tunnel and print the connection URL.

The tunnel strategy is chosen automatically:
  - a still-running tunnel from a previous session is reused
  - a logged-in cloudflared operator gets a persistent tunnel with a stable domain
  - otherwise an ephemeral quick tunnel is created

Flags override the automatic choice. The session identity (the secret path
segment of the public URL) lives in .vibelink.json next to your project and
stays stable across restarts unless --reset-uuid is given.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if startDebug {
		level = logging.LevelDebug
	}
	// Stdout is reserved for the connection URL.
	logging.Init(level, os.Stderr)

	application, err := app.New(app.Options{
		Port:         startPort,
		Quick:        startQuick,
		NoTunnel:     startNoTunnel,
		NoReuse:      startNoReuse,
		ResetUUID:    startResetUUID,
		NoAuth:       startNoAuth,
		TunnelName:   startTunnelName,
		AllowedPaths: startAllowedPaths,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().IntVar(&startPort, "port", 0, "Local port for the gateway (default 8300, or the configured port)")
	startCmd.Flags().BoolVar(&startQuick, "quick", false, "Force an ephemeral quick tunnel even when logged in")
	startCmd.Flags().BoolVar(&startNoTunnel, "no-tunnel", false, "Serve on the local port only, without any tunnel")
	startCmd.Flags().BoolVar(&startNoReuse, "no-reuse", false, "Ignore a still-running tunnel from a previous session")
	startCmd.Flags().BoolVar(&startResetUUID, "reset-uuid", false, "Generate a fresh session ID, invalidating the old URL")
	startCmd.Flags().StringVar(&startTunnelName, "tunnel", "", "Use a specific named tunnel")
	startCmd.Flags().StringSliceVar(&startAllowedPaths, "allowed-paths", nil, "Directories the file tools may access (default: unrestricted)")
	startCmd.Flags().BoolVar(&startNoAuth, "no-auth", false, "Disable OAuth; anyone with the URL gets full access")
	startCmd.Flags().BoolVar(&startDebug, "debug", false, "Enable debug logging")
}
