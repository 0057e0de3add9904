package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"vibelink/internal/config"
	"vibelink/internal/session"
	"vibelink/internal/tunnel"
	"vibelink/pkg/logging"
)

var tunnelDebug bool

// tunnelCmd groups the tunnel management subcommands.
var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Inspect and manage the session tunnel",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if tunnelDebug {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)
	},
}

var tunnelStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tunnel recorded for the current directory",
	Args:  cobra.NoArgs,
	RunE:  runTunnelStatus,
}

var tunnelStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the recorded tunnel subprocess",
	Args:  cobra.NoArgs,
	RunE:  runTunnelStop,
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the named tunnels of the logged-in operator",
	Args:  cobra.NoArgs,
	RunE:  runTunnelList,
}

// newSupervisor builds the cloudflared-backed supervisor using the
// configured binary path for the current directory.
func newSupervisor() (tunnel.Supervisor, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(wd)
	if err != nil {
		return nil, err
	}
	return tunnel.NewCloudflaredSupervisor(cfg.CloudflaredPath)
}

func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	return t
}

func runTunnelStatus(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	rec := session.NewStore(wd).Load()

	if !rec.HasTunnel() {
		fmt.Fprintln(cmd.OutOrStdout(), "No tunnel recorded for this directory.")
		return nil
	}

	// Liveness is best-effort: without cloudflared we still show the record.
	state := "unknown"
	if sup, err := newSupervisor(); err == nil {
		if sup.IsAlive(rec.TunnelPID) {
			if sup.Probe(cmd.Context(), rec.TunnelURL) {
				state = "running"
			} else {
				state = "process alive, tunnel unreachable"
			}
		} else {
			state = "not running"
		}
	}

	t := newTable(cmd)
	t.AppendHeader(table.Row{"KIND", "URL", "PID", "NAME", "STATE"})
	t.AppendRow(table.Row{rec.TunnelKind, rec.TunnelURL, rec.TunnelPID, rec.TunnelName, state})
	t.Render()
	return nil
}

func runTunnelStop(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	store := session.NewStore(wd)
	rec := store.Load()

	if !rec.HasTunnel() {
		fmt.Fprintln(cmd.OutOrStdout(), "No tunnel recorded for this directory.")
		return nil
	}

	sup, err := newSupervisor()
	if err != nil {
		return err
	}

	// The record is cleared even when the signal fails: a dangling orphan
	// process beats a record stuck on "in use".
	stopErr := sup.Stop(rec.TunnelPID)
	if err := store.Clear(); err != nil {
		return err
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop tunnel subprocess %d: %w", rec.TunnelPID, stopErr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped tunnel subprocess %d.\n", rec.TunnelPID)
	return nil
}

func runTunnelList(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	if !sup.IsAuthenticated(cmd.Context()) {
		return fmt.Errorf("not logged in with the tunnel provider; run `cloudflared tunnel login` first")
	}

	names, err := sup.ListTunnels(cmd.Context())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No named tunnels.")
		return nil
	}

	t := newTable(cmd)
	t.AppendHeader(table.Row{"NAME"})
	for _, name := range names {
		t.AppendRow(table.Row{name})
	}
	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(tunnelCmd)
	tunnelCmd.AddCommand(tunnelStatusCmd)
	tunnelCmd.AddCommand(tunnelStopCmd)
	tunnelCmd.AddCommand(tunnelListCmd)

	tunnelCmd.PersistentFlags().BoolVar(&tunnelDebug, "debug", false, "Enable debug logging")
}
