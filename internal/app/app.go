package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/sync/errgroup"

	"vibelink/internal/authz"
	"vibelink/internal/config"
	"vibelink/internal/gateway"
	"vibelink/internal/session"
	"vibelink/internal/toolserver"
	"vibelink/internal/tunnel"
	"vibelink/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

// Options are the effective settings for one start invocation, assembled
// from configuration files and command-line flags.
type Options struct {
	// WorkDir is the project directory the session is rooted in.
	WorkDir string

	// Port overrides the configured local port when non-zero.
	Port int

	Quick     bool
	NoTunnel  bool
	NoReuse   bool
	ResetUUID bool
	NoAuth    bool

	// TunnelName forces a specific persistent tunnel.
	TunnelName string

	// AllowedPaths overrides the configured tool server path restrictions.
	AllowedPaths []string

	// Supervisor replaces the cloudflared-backed supervisor, for tests.
	Supervisor tunnel.Supervisor
}

// App wires the session store, the tunnel supervisor, the authorization
// server and the gateway into one running instance.
type App struct {
	opts  Options
	cfg   config.Config
	store *session.Store
	rec   *session.Record

	supervisor tunnel.Supervisor
	retry      *tunnel.RetryController

	Stdout io.Writer
	Stderr io.Writer

	mu        sync.Mutex
	boundAddr string
	ready     chan struct{}

	// tunnelActive marks that this run owns or adopted a tunnel subprocess
	// that shutdown should stop.
	tunnelActive bool
}

// New assembles an App for the given options. Configuration files in the
// working directory and the user config directory are loaded first; flags in
// opts win over both.
func New(opts Options) (*App, error) {
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		opts.WorkDir = wd
	}

	cfg, err := config.Load(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}
	if opts.TunnelName != "" {
		cfg.TunnelName = opts.TunnelName
	}
	if len(opts.AllowedPaths) > 0 {
		cfg.AllowedPaths = opts.AllowedPaths
	}

	a := &App{
		opts:   opts,
		cfg:    cfg,
		store:  session.NewStore(opts.WorkDir),
		retry:  tunnel.NewRetryController(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		ready:  make(chan struct{}),
	}

	a.supervisor = opts.Supervisor
	if a.supervisor == nil && !opts.NoTunnel {
		sup, err := tunnel.NewCloudflaredSupervisor(cfg.CloudflaredPath)
		if err != nil {
			return nil, err
		}
		a.supervisor = sup
	}

	return a, nil
}

// BoundAddr returns the address the gateway is listening on, once Run has
// bound it.
func (a *App) BoundAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boundAddr
}

// Ready is closed once the gateway is accepting connections.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Run establishes the tunnel, starts the gateway and blocks until ctx is
// cancelled or a component fails. On a clean shutdown the tunnel subprocess
// is stopped and the session's tunnel fields are cleared; a crash leaves
// them in place so the next start can adopt the still-running tunnel.
func (a *App) Run(ctx context.Context) error {
	a.rec = a.store.Load()
	if a.opts.ResetUUID {
		a.rec.ResetSessionID()
		if err := a.store.Save(a.rec); err != nil {
			return err
		}
		logging.Info("App", "Session ID reset")
	}

	localURL := fmt.Sprintf("http://localhost:%d", a.cfg.Port)

	baseURL, spawnedPID, err := a.establishTunnel(ctx, localURL)
	if err != nil {
		return err
	}

	as, err := authz.NewServer(baseURL)
	if err != nil {
		return err
	}
	defer as.Stop()

	tools, err := toolserver.NewServer(a.opts.WorkDir, a.cfg.AllowedPaths, "/"+a.rec.SessionID)
	if err != nil {
		return err
	}

	gw := gateway.New(as, tools.Handler(), gateway.Options{DisableAuth: a.opts.NoAuth})
	if a.opts.NoAuth {
		logging.Warn("App", "Authentication is disabled; anyone with the URL has full access")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Port, err)
	}
	a.mu.Lock()
	a.boundAddr = ln.Addr().String()
	a.mu.Unlock()

	srv := &http.Server{Handler: gw}

	a.printBanner(baseURL)
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// Local-only runs never touch the recorded tunnel: one may still be
	// serving another session.
	if spawnedPID != 0 || a.tunnelActive {
		a.teardownTunnel()
	}
	return runErr
}

// establishTunnel decides and executes the tunnel strategy. It returns the
// public base URL the gateway is reachable on and, when this run started a
// subprocess, its PID.
func (a *App) establishTunnel(ctx context.Context, localURL string) (string, int, error) {
	if a.opts.NoTunnel {
		logging.Info("App", "Tunnel disabled, serving on %s only", localURL)
		return localURL, 0, nil
	}

	flags := tunnel.Flags{
		Quick:      a.opts.Quick,
		NoTunnel:   a.opts.NoTunnel,
		NoReuse:    a.opts.NoReuse,
		TunnelName: a.cfg.TunnelName,
	}
	auth := tunnel.AuthStatus{LoggedIn: a.supervisor.IsAuthenticated(ctx)}

	decision := tunnel.SelectMode(ctx, flags, auth, a.rec, a.supervisor)
	if decision.Warning != "" {
		fmt.Fprintf(a.Stderr, "Warning: %s\n", decision.Warning)
	}
	logging.Info("App", "Tunnel strategy: %s", decision.Mode)

	switch decision.Mode {
	case tunnel.ModeReuse:
		fmt.Fprintf(a.Stderr, "Reusing tunnel %s (pid %d)\n", a.rec.TunnelURL, a.rec.TunnelPID)
		a.tunnelActive = true
		return a.rec.TunnelURL, 0, nil

	case tunnel.ModeQuick:
		handle, err := a.spawnQuick(ctx, localURL)
		if err != nil {
			return "", 0, err
		}
		a.rec.SetTunnel(session.TunnelQuick, handle.URL, handle.PID, "")
		if err := a.store.Save(a.rec); err != nil {
			return "", 0, err
		}
		a.tunnelActive = true
		return handle.URL, handle.PID, nil

	case tunnel.ModePersistent:
		name := decision.TunnelName
		if name == "" {
			var err error
			name, err = a.supervisor.EnsureNamedTunnel(ctx, config.DefaultTunnelNamePrefix)
			if err != nil {
				return "", 0, err
			}
		}
		handle, err := a.supervisor.Spawn(ctx, tunnel.KindPersistent, tunnel.SpawnConfig{
			LocalURL:   localURL,
			TunnelName: name,
		})
		if err != nil {
			return "", 0, err
		}
		a.rec.SetTunnel(session.TunnelPersistent, handle.URL, handle.PID, name)
		if err := a.store.Save(a.rec); err != nil {
			return "", 0, err
		}
		a.tunnelActive = true
		return handle.URL, handle.PID, nil

	default:
		return localURL, 0, nil
	}
}

func (a *App) spawnQuick(ctx context.Context, localURL string) (*tunnel.Handle, error) {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.Stderr))
	spin.Suffix = " Starting tunnel..."
	spin.Start()
	defer spin.Stop()

	return a.retry.SpawnQuick(ctx, a.supervisor, tunnel.SpawnConfig{LocalURL: localURL})
}

// teardownTunnel stops the recorded tunnel subprocess and clears the tunnel
// fields while keeping the session ID stable.
func (a *App) teardownTunnel() {
	if a.rec.TunnelPID != 0 && a.supervisor != nil {
		if err := a.supervisor.Stop(a.rec.TunnelPID); err != nil {
			logging.Warn("App", "Failed to stop tunnel subprocess %d: %v", a.rec.TunnelPID, err)
		}
	}
	a.rec.ClearTunnel()
	if err := a.store.Save(a.rec); err != nil {
		logging.Warn("App", "Failed to persist session record on shutdown: %v", err)
	}
}

// printBanner writes the connection URL to stdout and operator guidance to
// stderr. Stdout carries exactly the URL so it stays script-friendly.
func (a *App) printBanner(baseURL string) {
	mcpURL := fmt.Sprintf("%s/%s", baseURL, a.rec.SessionID)
	fmt.Fprintln(a.Stdout, mcpURL)

	fmt.Fprintf(a.Stderr, "\nMCP endpoint: %s\n", mcpURL)
	if a.opts.NoAuth {
		fmt.Fprintf(a.Stderr, "Authentication: disabled\n")
	} else {
		fmt.Fprintf(a.Stderr, "Authentication: OAuth (clients register at %s/register)\n", baseURL)
	}
	fmt.Fprintf(a.Stderr, "Press Ctrl+C to stop.\n")
}
