package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vibelink/pkg/logging"

	"github.com/google/uuid"
)

// RecordFileName is the session file kept in the working directory.
const RecordFileName = ".vibelink.json"

// TunnelKind identifies the kind of public tunnel a session uses.
type TunnelKind string

const (
	TunnelNone       TunnelKind = "none"
	TunnelQuick      TunnelKind = "quick"
	TunnelPersistent TunnelKind = "persistent"
)

// Record is the durable session state for one working directory.
// SessionID doubles as the secret path segment of the public URL and stays
// stable across tunnel type changes; only the tunnel fields are ever cleared.
type Record struct {
	SessionID  string     `json:"sessionId"`
	TunnelKind TunnelKind `json:"tunnelKind"`
	TunnelURL  string     `json:"tunnelUrl,omitempty"`
	TunnelPID  int        `json:"tunnelProcessId,omitempty"`
	TunnelName string     `json:"tunnelName,omitempty"`
}

// HasTunnel reports whether the record tracks an established tunnel.
// URL and PID are set and cleared together; either one implies the other.
func (r *Record) HasTunnel() bool {
	return r.TunnelURL != "" && r.TunnelPID != 0
}

// SetTunnel records an established tunnel.
func (r *Record) SetTunnel(kind TunnelKind, url string, pid int, name string) {
	r.TunnelKind = kind
	r.TunnelURL = url
	r.TunnelPID = pid
	r.TunnelName = name
}

// ClearTunnel nulls the tunnel fields, keeping the session ID.
func (r *Record) ClearTunnel() {
	r.TunnelKind = TunnelNone
	r.TunnelURL = ""
	r.TunnelPID = 0
	r.TunnelName = ""
}

// ResetSessionID assigns a fresh session ID, invalidating the old public path.
func (r *Record) ResetSessionID() {
	r.SessionID = newSessionID()
}

// Store persists session records in a working directory.
// It assumes a single writer per directory; concurrent starts in the same
// directory are an unsupported configuration.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the given working directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the location of the session file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, RecordFileName)
}

// Load reads the session record, creating and persisting a fresh one if the
// file is absent or unreadable. It never fails.
func (s *Store) Load() *Record {
	data, err := os.ReadFile(s.Path())
	if err == nil {
		var rec Record
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil && rec.SessionID != "" {
			if rec.TunnelKind == "" {
				rec.TunnelKind = TunnelNone
			}
			logging.Debug("Session", "Loaded session %s from %s", rec.SessionID, s.Path())
			return &rec
		}
		logging.Warn("Session", "Session file %s is corrupt, starting fresh", s.Path())
	}

	rec := &Record{
		SessionID:  newSessionID(),
		TunnelKind: TunnelNone,
	}
	if err := s.Save(rec); err != nil {
		logging.Warn("Session", "Could not persist new session record: %v", err)
	}
	return rec
}

// Save writes the full record atomically: the JSON document is written to a
// temp file in the same directory and renamed over the target, so a crash
// mid-write never leaves a partial record behind.
func (s *Store) Save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, RecordFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear nulls the tunnel fields of the persisted record, keeping the session ID.
func (s *Store) Clear() error {
	rec := s.Load()
	rec.ClearTunnel()
	return s.Save(rec)
}

// newSessionID returns 32 hex characters, matching the uuid4-hex path segment
// the remote client was configured with.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
