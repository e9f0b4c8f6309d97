// Package session persists the signed-in user for the CLI and the daemon.
//
// The session file is a small YAML document. Writing it signs the user in;
// removing it signs them out. The daemon watches the file to drive the sync
// orchestrator's sign-in and sign-out events.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned by Load when nobody is signed in.
var ErrNoSession = errors.New("not signed in")

// Session identifies the signed-in user.
type Session struct {
	UserID     string    `yaml:"user_id"`
	Email      string    `yaml:"email,omitempty"`
	SignedInAt time.Time `yaml:"signed_in_at"`
}

// Validate checks if the Session has valid field values.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// Load reads the session at path. A missing or empty file yields
// ErrNoSession.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrNoSession
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session %s: %w", path, err)
	}
	return &s, nil
}

// Save writes s to path atomically, creating parent directories.
func Save(path string, s *Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if s.SignedInAt.IsZero() {
		s.SignedInAt = time.Now().UTC()
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set session permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear removes the session. Clearing when nobody is signed in is a no-op.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
