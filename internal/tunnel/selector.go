package tunnel

import (
	"context"

	"vibelink/internal/session"
)

// Flags are the tunnel-relevant command-line flags of the start command.
type Flags struct {
	Quick      bool
	NoTunnel   bool
	NoReuse    bool
	TunnelName string
}

// AuthStatus is the operator's authentication state with the tunnel provider.
type AuthStatus struct {
	LoggedIn bool
}

// Mode is the tunnel strategy chosen for a start invocation.
type Mode int

const (
	// ModeLocal serves on the local port only, no subprocess at all.
	ModeLocal Mode = iota
	// ModeReuse adopts the live tunnel recorded in the session.
	ModeReuse
	// ModeQuick spawns an ephemeral random-domain tunnel.
	ModeQuick
	// ModePersistent spawns a named tunnel with a stable domain.
	ModePersistent
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeReuse:
		return "reuse"
	case ModeQuick:
		return "quick"
	case ModePersistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// Decision is the selector's outcome.
type Decision struct {
	Mode Mode
	// TunnelName is the persistent tunnel to run. Empty means the caller
	// should ensure one exists under the default prefix.
	TunnelName string
	// Warning is operator guidance to surface alongside the decision.
	Warning string
}

// SelectMode decides the tunnel strategy for a start invocation. It is a
// pure function of its inputs: the same flags, auth status, record and probe
// answers always produce the same decision.
//
// The ordering encodes the priorities: an explicit local request wins, then a
// still-working tunnel is never discarded, then explicit choices, and only
// then the ephemeral fallback.
func SelectMode(ctx context.Context, flags Flags, auth AuthStatus, rec *session.Record, prober Prober) Decision {
	if flags.NoTunnel {
		return Decision{Mode: ModeLocal}
	}

	if !flags.NoReuse && rec.HasTunnel() &&
		prober.IsAlive(rec.TunnelPID) && prober.Probe(ctx, rec.TunnelURL) {
		return Decision{Mode: ModeReuse, TunnelName: rec.TunnelName}
	}

	if flags.TunnelName != "" {
		return Decision{Mode: ModePersistent, TunnelName: flags.TunnelName}
	}

	if flags.Quick {
		return Decision{Mode: ModeQuick}
	}

	if auth.LoggedIn {
		return Decision{Mode: ModePersistent, TunnelName: rec.TunnelName}
	}

	return Decision{
		Mode:    ModeQuick,
		Warning: "using a quick tunnel; the domain changes on every start. Log in with `cloudflared tunnel login` for a stable domain.",
	}
}
