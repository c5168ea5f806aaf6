// Package roster loads the list of account handles a run fetches.
package roster

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed default_roster.json
var defaultRoster []byte

// Default returns the built-in roster of tech and AI accounts.
func Default() []string {
	var handles []string
	if err := json.Unmarshal(defaultRoster, &handles); err != nil {
		panic(fmt.Sprintf("embedded roster is invalid: %v", err))
	}
	return Normalize(handles)
}

// Load reads a JSON array of handles from path. An empty path or a missing
// file yields the default roster.
func Load(path string) ([]string, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var handles []string
	if err := json.Unmarshal(data, &handles); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", path, err)
	}
	return Normalize(handles), nil
}

// Normalize trims whitespace and a leading @, drops blanks, and removes
// case-insensitive duplicates keeping the first spelling seen.
func Normalize(handles []string) []string {
	out := make([]string, 0, len(handles))
	seen := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		h = strings.TrimPrefix(strings.TrimSpace(h), "@")
		if h == "" {
			continue
		}
		key := strings.ToLower(h)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}
