package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"vibelink/pkg/logging"
)

const (
	// DefaultReadyTimeout bounds how long Spawn waits for the URL line.
	DefaultReadyTimeout = 30 * time.Second

	// stopGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	stopGracePeriod = 5 * time.Second

	// probeGraceWindow tolerates slow DNS propagation on fresh tunnels.
	probeGraceWindow = 5 * time.Second
	probeInterval    = time.Second

	// statusTunnelDown is Cloudflare's edge status for a disconnected tunnel.
	// Any other HTTP answer means the tunnel itself is up, even when the
	// local origin behind it is not yet bound.
	statusTunnelDown = 530

	// outputChannelSize bounds the channel the reader goroutine drains
	// subprocess output into, so a chatty subprocess never blocks on a full
	// pipe while Spawn waits on the ready signal.
	outputChannelSize = 256
)

// defaultBinaryPaths are the common install locations for cloudflared.
var defaultBinaryPaths = []string{
	"cloudflared",
	"/opt/homebrew/bin/cloudflared",
	"/usr/local/bin/cloudflared",
	"/usr/bin/cloudflared",
}

// CloudflaredSupervisor is the exec-backed Supervisor implementation.
type CloudflaredSupervisor struct {
	binary       string
	readyTimeout time.Duration
	probeWindow  time.Duration
	httpClient   *http.Client
}

// NewCloudflaredSupervisor locates the cloudflared binary and returns a
// supervisor bound to it. An empty binaryPath triggers discovery across the
// standard install locations. A missing binary is a configuration error.
func NewCloudflaredSupervisor(binaryPath string) (*CloudflaredSupervisor, error) {
	candidates := defaultBinaryPaths
	if binaryPath != "" {
		candidates = []string{binaryPath}
	}

	for _, candidate := range candidates {
		if err := exec.Command(candidate, "--version").Run(); err == nil {
			return &CloudflaredSupervisor{
				binary:       candidate,
				readyTimeout: DefaultReadyTimeout,
				probeWindow:  probeGraceWindow,
				httpClient:   &http.Client{Timeout: 3 * time.Second},
			}, nil
		}
	}

	return nil, fmt.Errorf("cloudflared not found in any expected location (install with your package manager, or run with --no-tunnel)")
}

// SetReadyTimeout overrides the URL wait timeout. Used by tests.
func (s *CloudflaredSupervisor) SetReadyTimeout(d time.Duration) {
	s.readyTimeout = d
}

// SetProbeWindow overrides the reachability grace window. Used by tests.
func (s *CloudflaredSupervisor) SetProbeWindow(d time.Duration) {
	s.probeWindow = d
}

// Spawn launches cloudflared for the given kind and blocks until the tunnel
// is usable, the process exits, the timeout elapses, or ctx is canceled.
//
// For persistent tunnels the public domain is deterministic, so the handle is
// returned as soon as the process is up; output is still drained in the
// background to keep the pipe flowing.
func (s *CloudflaredSupervisor) Spawn(ctx context.Context, kind Kind, cfg SpawnConfig) (*Handle, error) {
	args := []string{"tunnel", "--no-autoupdate", "--url", cfg.LocalURL}
	if kind == KindPersistent {
		if cfg.TunnelName == "" {
			return nil, fmt.Errorf("persistent tunnel requires a tunnel name")
		}
		args = append(args, "run", cfg.TunnelName)
	}

	cmd := exec.Command(s.binary, args...)

	// Merge stdout and stderr into one stream; cloudflared logs the URL and
	// its errors on either depending on version.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	logging.Info("Tunnel", "Starting cloudflared (%s) for %s", kind, cfg.LocalURL)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start cloudflared: %w", err)
	}
	pw.Close()

	lines := make(chan string, outputChannelSize)
	go func() {
		defer close(lines)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := scanner.Text()
			logging.Debug("Tunnel", "cloudflared: %s", line)
			select {
			case lines <- line:
			default:
				// channel full: drop, the interesting lines come early
			}
		}
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	handle := &Handle{
		PID:       cmd.Process.Pid,
		Kind:      kind,
		StartedAt: time.Now(),
	}

	if kind == KindPersistent {
		// Named tunnels resolve on a predictable domain.
		handle.URL = fmt.Sprintf("https://%s.cfargotunnel.com", cfg.TunnelName)
		go drain(lines)
		return handle, nil
	}

	return s.awaitQuickURL(ctx, handle, lines, exited)
}

// awaitQuickURL watches the output stream for the URL announcement.
func (s *CloudflaredSupervisor) awaitQuickURL(ctx context.Context, handle *Handle, lines <-chan string, exited <-chan error) (*Handle, error) {
	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	var lastFailure Classification

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// Output closed: the process exited before a URL appeared.
				<-exited
				return nil, spawnFailure(lastFailure)
			}
			switch c := ClassifyLine(line); c.Class {
			case ClassReady:
				logging.Info("Tunnel", "Tunnel ready at %s (pid %d)", c.URL, handle.PID)
				handle.URL = c.URL
				go drain(lines)
				return handle, nil
			case ClassRateLimited:
				logging.Warn("Tunnel", "Rate limiting detected, terminating attempt (pid %d)", handle.PID)
				_ = s.Stop(handle.PID)
				return nil, &SpawnError{Class: ClassRateLimited, Detail: c.Detail}
			case ClassFailure:
				lastFailure = c
			}

		case <-ctx.Done():
			_ = s.Stop(handle.PID)
			return nil, ctx.Err()

		case <-timer.C:
			// Soft failure: the process may still come up; callers can
			// retry observation or stop the PID themselves.
			return nil, &ReadyTimeoutError{PID: handle.PID, Timeout: s.readyTimeout}
		}
	}
}

func spawnFailure(last Classification) error {
	if last.Class == ClassFailure || last.Class == ClassRateLimited {
		return &SpawnError{Class: last.Class, Detail: last.Detail}
	}
	return &SpawnError{Class: ClassFailure}
}

func drain(lines <-chan string) {
	for range lines {
	}
}

// IsAlive reports whether a process with the given PID exists, via signal 0.
// The PID may belong to a recycled process, so callers combine this with
// Probe before trusting a recorded handle.
func (s *CloudflaredSupervisor) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Probe checks whether the public URL answers over HTTP. A 530 from the edge
// means the tunnel is disconnected; any other HTTP answer counts as
// reachable, because the local origin behind a reused tunnel may not be
// rebound yet. Network errors are retried within the grace window.
func (s *CloudflaredSupervisor) Probe(ctx context.Context, url string) bool {
	deadline := time.Now().Add(s.probeWindow)
	for {
		if reachable := s.probeOnce(ctx, url); reachable {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(probeInterval):
		}
	}
}

func (s *CloudflaredSupervisor) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode != statusTunnelDown
}

// Stop terminates the tunnel subprocess: SIGTERM, a bounded wait, then
// SIGKILL. Calling it on an exited or unknown PID is a no-op.
func (s *CloudflaredSupervisor) Stop(pid int) error {
	if !s.IsAlive(pid) {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	logging.Info("Tunnel", "Stopping tunnel subprocess (pid %d)", pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return nil
	}

	deadline := time.Now().Add(stopGracePeriod)
	for time.Now().Before(deadline) {
		if !s.IsAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logging.Warn("Tunnel", "Tunnel subprocess %d did not exit, sending SIGKILL", pid)
	return proc.Kill()
}

// IsAuthenticated reports whether the operator is logged in with the
// provider: `cloudflared tunnel list` only succeeds with credentials.
func (s *CloudflaredSupervisor) IsAuthenticated(ctx context.Context) bool {
	return exec.CommandContext(ctx, s.binary, "tunnel", "list").Run() == nil
}

// ListTunnels returns the names of the operator's named tunnels.
func (s *CloudflaredSupervisor) ListTunnels(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, s.binary, "tunnel", "list").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels (are you logged in with the provider?): %w", err)
	}

	var names []string
	tunnelLines := strings.Split(string(out), "\n")
	for i, line := range tunnelLines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names, nil
}

// EnsureNamedTunnel returns an existing named tunnel whose name starts with
// prefix, creating one when none exists.
func (s *CloudflaredSupervisor) EnsureNamedTunnel(ctx context.Context, prefix string) (string, error) {
	existing, err := s.ListTunnels(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range existing {
		if strings.HasPrefix(name, prefix) {
			logging.Info("Tunnel", "Using existing named tunnel %s", name)
			return name, nil
		}
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	name := fmt.Sprintf("%s-%s", prefix, timestamp[len(timestamp)-6:])
	logging.Info("Tunnel", "Creating named tunnel %s", name)
	if out, err := exec.CommandContext(ctx, s.binary, "tunnel", "create", name).CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to create tunnel %s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return name, nil
}
