package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeCloudflared writes an executable shell script standing in for the
// tunnel binary. It answers --version so binary discovery accepts it; any
// other invocation runs body with the original arguments.
func writeFakeCloudflared(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake cloudflared script requires a POSIX shell")
	}

	script := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "cloudflared version 0.0.0-test"
  exit 0
fi
%s
`, body)

	path := filepath.Join(t.TempDir(), "cloudflared")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, body string) *CloudflaredSupervisor {
	t.Helper()
	sup, err := NewCloudflaredSupervisor(writeFakeCloudflared(t, body))
	require.NoError(t, err)
	return sup
}

func TestNewCloudflaredSupervisorMissingBinary(t *testing.T) {
	_, err := NewCloudflaredSupervisor(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--no-tunnel")
}

func TestSpawnQuickObservesURL(t *testing.T) {
	sup := newTestSupervisor(t, `
echo "INF Starting tunnel"
echo "INF |  https://fake-otter-123.trycloudflare.com  |"
sleep 30
`)
	sup.SetReadyTimeout(10 * time.Second)

	handle, err := sup.Spawn(context.Background(), KindQuick, SpawnConfig{LocalURL: "http://127.0.0.1:8300"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Stop(handle.PID) })

	assert.Equal(t, "https://fake-otter-123.trycloudflare.com", handle.URL)
	assert.Equal(t, KindQuick, handle.Kind)
	assert.True(t, sup.IsAlive(handle.PID))
}

func TestSpawnQuickRateLimited(t *testing.T) {
	sup := newTestSupervisor(t, `
echo "failed to request quick Tunnel: 429 Too Many Requests"
sleep 30
`)
	sup.SetReadyTimeout(10 * time.Second)

	_, err := sup.Spawn(context.Background(), KindQuick, SpawnConfig{LocalURL: "http://127.0.0.1:8300"})

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, ClassRateLimited, spawnErr.Class)
}

func TestSpawnQuickEarlyExit(t *testing.T) {
	sup := newTestSupervisor(t, `
echo "ERR failed to connect error code: 1033"
exit 1
`)
	sup.SetReadyTimeout(10 * time.Second)

	_, err := sup.Spawn(context.Background(), KindQuick, SpawnConfig{LocalURL: "http://127.0.0.1:8300"})

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, ClassFailure, spawnErr.Class)
	assert.Contains(t, spawnErr.Detail, "error code: 1033")
}

func TestSpawnQuickReadyTimeoutLeavesProcessRunning(t *testing.T) {
	sup := newTestSupervisor(t, `
echo "INF still starting"
sleep 30
`)
	sup.SetReadyTimeout(300 * time.Millisecond)

	_, err := sup.Spawn(context.Background(), KindQuick, SpawnConfig{LocalURL: "http://127.0.0.1:8300"})

	var timeoutErr *ReadyTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, sup.IsAlive(timeoutErr.PID), "soft failure must leave the subprocess running")
	_ = sup.Stop(timeoutErr.PID)
}

func TestSpawnPersistentReturnsDeterministicDomain(t *testing.T) {
	sup := newTestSupervisor(t, `sleep 30`)

	handle, err := sup.Spawn(context.Background(), KindPersistent, SpawnConfig{
		LocalURL:   "http://127.0.0.1:8300",
		TunnelName: "my-tunnel",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Stop(handle.PID) })

	assert.Equal(t, "https://my-tunnel.cfargotunnel.com", handle.URL)
	assert.Equal(t, KindPersistent, handle.Kind)
}

func TestSpawnPersistentRequiresName(t *testing.T) {
	sup := newTestSupervisor(t, `sleep 30`)
	_, err := sup.Spawn(context.Background(), KindPersistent, SpawnConfig{LocalURL: "http://127.0.0.1:8300"})
	assert.Error(t, err)
}

func TestIsAlive(t *testing.T) {
	sup := newTestSupervisor(t, `exit 0`)

	assert.True(t, sup.IsAlive(os.Getpid()))
	assert.False(t, sup.IsAlive(0))
	assert.False(t, sup.IsAlive(-1))
}

func TestStopIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t, `exit 0`)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()

	assert.NoError(t, sup.Stop(pid))
	assert.NoError(t, sup.Stop(pid))

	<-reaped
	// stopping an already-exited process never raises either
	assert.NoError(t, sup.Stop(pid))
}

func TestProbeReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup := newTestSupervisor(t, `exit 0`)
	sup.SetProbeWindow(time.Second)

	assert.True(t, sup.Probe(context.Background(), srv.URL))
}

func TestProbeBadGatewayStillReachable(t *testing.T) {
	// the edge answers 502 while the local origin is not rebound yet; the
	// tunnel itself is up, so the candidate stays reusable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sup := newTestSupervisor(t, `exit 0`)
	sup.SetProbeWindow(time.Second)

	assert.True(t, sup.Probe(context.Background(), srv.URL))
}

func TestProbeTunnelDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusTunnelDown)
	}))
	defer srv.Close()

	sup := newTestSupervisor(t, `exit 0`)
	sup.SetProbeWindow(100 * time.Millisecond)

	assert.False(t, sup.Probe(context.Background(), srv.URL))
}

func TestProbeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // now refuses connections

	sup := newTestSupervisor(t, `exit 0`)
	sup.SetProbeWindow(100 * time.Millisecond)

	assert.False(t, sup.Probe(context.Background(), srv.URL))
}

func TestIsAuthenticated(t *testing.T) {
	loggedIn := newTestSupervisor(t, `
if [ "$1" = "tunnel" ] && [ "$2" = "list" ]; then exit 0; fi
exit 1
`)
	assert.True(t, loggedIn.IsAuthenticated(context.Background()))

	loggedOut := newTestSupervisor(t, `exit 1`)
	assert.False(t, loggedOut.IsAuthenticated(context.Background()))
}

func TestListTunnels(t *testing.T) {
	sup := newTestSupervisor(t, `
if [ "$1" = "tunnel" ] && [ "$2" = "list" ]; then
  echo "ID        NAME            CREATED"
  echo "11111111  vibelink-123456 2026-01-01"
  echo "22222222  staging         2026-02-01"
  exit 0
fi
exit 1
`)

	names, err := sup.ListTunnels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"vibelink-123456", "staging"}, names)
}

func TestEnsureNamedTunnelReusesExisting(t *testing.T) {
	sup := newTestSupervisor(t, `
if [ "$1" = "tunnel" ] && [ "$2" = "list" ]; then
  echo "ID        NAME            CREATED"
  echo "11111111  vibelink-123456 2026-01-01"
  exit 0
fi
exit 1
`)

	name, err := sup.EnsureNamedTunnel(context.Background(), "vibelink")
	require.NoError(t, err)
	assert.Equal(t, "vibelink-123456", name)
}

func TestEnsureNamedTunnelCreates(t *testing.T) {
	sup := newTestSupervisor(t, `
if [ "$1" = "tunnel" ] && [ "$2" = "list" ]; then
  echo "ID NAME CREATED"
  exit 0
fi
if [ "$1" = "tunnel" ] && [ "$2" = "create" ]; then
  echo "Created tunnel $3"
  exit 0
fi
exit 1
`)

	name, err := sup.EnsureNamedTunnel(context.Background(), "vibelink")
	require.NoError(t, err)
	assert.Contains(t, name, "vibelink-")
}
