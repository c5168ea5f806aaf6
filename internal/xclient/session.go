package xclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Session holds the browser cookies that authenticate API calls.
type Session struct {
	AuthToken string `json:"auth_token"`
	CT0       string `json:"ct0"`
}

// Valid reports whether both cookies are present.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.AuthToken) != "" && strings.TrimSpace(s.CT0) != ""
}

// LoadSession reads a session file. A missing file yields os.ErrNotExist.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", path, err)
	}
	if !s.Valid() {
		return Session{}, fmt.Errorf("session %s is missing cookies", path)
	}
	return s, nil
}

// SaveSession writes the session with owner-only permissions.
func SaveSession(path string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
