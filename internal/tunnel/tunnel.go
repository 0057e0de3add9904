package tunnel

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies which cloudflared mode a tunnel runs in.
type Kind string

const (
	// KindQuick is an ephemeral tunnel with a random trycloudflare.com domain.
	KindQuick Kind = "quick"
	// KindPersistent is a named tunnel bound to a stable domain. Requires
	// the operator to be logged in with the tunnel provider.
	KindPersistent Kind = "persistent"
)

// SpawnConfig carries the arguments for one tunnel subprocess.
type SpawnConfig struct {
	// LocalURL is the local origin the tunnel forwards to, e.g. http://127.0.0.1:8300.
	LocalURL string
	// TunnelName names the persistent tunnel. Ignored for quick tunnels.
	TunnelName string
}

// Handle describes a running tunnel subprocess. It is runtime-only; across
// restarts a handle is reconstructed from the recorded PID plus a
// reachability probe, never from saved output.
type Handle struct {
	PID       int
	Kind      Kind
	URL       string
	StartedAt time.Time
}

// Prober is the subset of Supervisor the strategy selector needs to validate
// a reuse candidate.
type Prober interface {
	// IsAlive reports whether a process with the given PID exists. PIDs can
	// be recycled, so a positive answer must be confirmed with Probe before
	// trusting a reused handle.
	IsAlive(pid int) bool
	// Probe checks that a public tunnel URL answers over HTTP, tolerating
	// slow DNS propagation within a short grace window.
	Probe(ctx context.Context, url string) bool
}

// Supervisor owns the external tunnel binary: spawning, observing, probing
// and stopping it. Business logic depends on this interface so it stays
// testable without a real binary.
type Supervisor interface {
	Prober

	// Spawn launches the tunnel subprocess and blocks until a public URL is
	// observed, the process exits early, or a bounded timeout elapses.
	Spawn(ctx context.Context, kind Kind, cfg SpawnConfig) (*Handle, error)

	// Stop terminates the subprocess gracefully, escalating to SIGKILL.
	// It is idempotent and safe to call on an already-exited process.
	Stop(pid int) error

	// IsAuthenticated reports whether the operator is logged in with the
	// tunnel provider, which is what makes persistent tunnels available.
	IsAuthenticated(ctx context.Context) bool

	// ListTunnels returns the names of the operator's named tunnels.
	ListTunnels(ctx context.Context) ([]string, error)

	// EnsureNamedTunnel returns an existing tunnel whose name starts with
	// prefix, creating one when none exists.
	EnsureNamedTunnel(ctx context.Context, prefix string) (string, error)
}

// SpawnError is a classified spawn failure.
type SpawnError struct {
	Class  LineClass
	Detail string
}

func (e *SpawnError) Error() string {
	switch e.Class {
	case ClassRateLimited:
		return "tunnel provider rate limited the quick tunnel request"
	default:
		if e.Detail != "" {
			return fmt.Sprintf("tunnel subprocess failed: %s", e.Detail)
		}
		return "tunnel subprocess failed before announcing a URL"
	}
}

// ReadyTimeoutError reports that no URL was observed within the ready
// timeout. The subprocess is still running; the caller decides its fate.
type ReadyTimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("no tunnel URL observed within %s (subprocess pid %d left running)", e.Timeout, e.PID)
}
