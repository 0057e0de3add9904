package tunnel

import (
	"context"
	"testing"

	"vibelink/internal/session"

	"github.com/stretchr/testify/assert"
)

func liveRecord() *session.Record {
	return &session.Record{
		SessionID:  "abcd1234",
		TunnelKind: session.TunnelQuick,
		TunnelURL:  "https://old.trycloudflare.com",
		TunnelPID:  4242,
	}
}

func emptyRecord() *session.Record {
	return &session.Record{SessionID: "abcd1234", TunnelKind: session.TunnelNone}
}

func TestSelectMode(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		flags    Flags
		auth     AuthStatus
		rec      *session.Record
		sup      *fakeSupervisor
		wantMode Mode
		wantName string
		wantWarn bool
	}{
		{
			name:     "no-tunnel wins over everything",
			flags:    Flags{NoTunnel: true, Quick: true},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: true, reachable: true},
			wantMode: ModeLocal,
		},
		{
			name:     "live reachable tunnel is reused",
			flags:    Flags{},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: true, reachable: true},
			wantMode: ModeReuse,
		},
		{
			name:     "reuse beats explicit quick flag",
			flags:    Flags{Quick: true},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: true, reachable: true},
			wantMode: ModeReuse,
		},
		{
			name:     "no-reuse skips a live tunnel",
			flags:    Flags{NoReuse: true, Quick: true},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: true, reachable: true},
			wantMode: ModeQuick,
		},
		{
			name:     "dead pid falls through to quick",
			flags:    Flags{Quick: true},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: false, reachable: true},
			wantMode: ModeQuick,
		},
		{
			name:     "alive but unreachable falls through",
			flags:    Flags{Quick: true},
			rec:      liveRecord(),
			sup:      &fakeSupervisor{alive: true, reachable: false},
			wantMode: ModeQuick,
		},
		{
			name:     "explicit tunnel name forces persistent",
			flags:    Flags{TunnelName: "my-tunnel"},
			rec:      emptyRecord(),
			sup:      &fakeSupervisor{},
			wantMode: ModePersistent,
			wantName: "my-tunnel",
		},
		{
			name:     "quick flag without reuse candidate",
			flags:    Flags{Quick: true},
			rec:      emptyRecord(),
			sup:      &fakeSupervisor{},
			wantMode: ModeQuick,
		},
		{
			name:     "logged in defaults to persistent",
			flags:    Flags{},
			auth:     AuthStatus{LoggedIn: true},
			rec:      emptyRecord(),
			sup:      &fakeSupervisor{},
			wantMode: ModePersistent,
		},
		{
			name:     "logged out defaults to quick with a warning",
			flags:    Flags{},
			rec:      emptyRecord(),
			sup:      &fakeSupervisor{},
			wantMode: ModeQuick,
			wantWarn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectMode(ctx, tt.flags, tt.auth, tt.rec, tt.sup)
			assert.Equal(t, tt.wantMode, got.Mode)
			if tt.wantName != "" {
				assert.Equal(t, tt.wantName, got.TunnelName)
			}
			if tt.wantWarn {
				assert.NotEmpty(t, got.Warning)
			} else {
				assert.Empty(t, got.Warning)
			}
		})
	}
}

func TestSelectModeIsDeterministic(t *testing.T) {
	ctx := context.Background()
	flags := Flags{Quick: true}
	rec := liveRecord()
	sup := &fakeSupervisor{alive: true, reachable: true}

	first := SelectMode(ctx, flags, AuthStatus{}, rec, sup)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SelectMode(ctx, flags, AuthStatus{}, rec, sup))
	}
}

func TestSelectModeDoesNotProbeWithoutCandidate(t *testing.T) {
	sup := &fakeSupervisor{}
	SelectMode(context.Background(), Flags{}, AuthStatus{}, emptyRecord(), sup)
	assert.Zero(t, sup.probeCount)
}

func TestSelectModeNoTunnelSkipsProbe(t *testing.T) {
	// an explicit local request never touches the prober
	sup := &fakeSupervisor{alive: true, reachable: true}
	SelectMode(context.Background(), Flags{NoTunnel: true}, AuthStatus{}, liveRecord(), sup)
	assert.Zero(t, sup.probeCount)
}
