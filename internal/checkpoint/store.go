// Package checkpoint persists the contact → last-answered-message map.
// Once a (contact, text) pair is recorded, that exact message is never
// answered again, across process restarts included.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Store is a durable JSON-object map keyed by contact. Updates go through
// sjson so keys written by other tools survive rewrites untouched.
type Store struct {
	path string

	mu      sync.Mutex
	raw     []byte
	entries map[string]string
}

// Load reads the checkpoint file. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := &Store{
		path:    path,
		raw:     []byte("{}"),
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("checkpoint %s: not a JSON object", path)
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			s.entries[key.String()] = value.String()
		}
		return true
	})
	s.raw = data
	return s, nil
}

// LastAnswered returns the last answered message text for the contact.
func (s *Store) LastAnswered(contact string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.entries[contact]
	return text, ok
}

// Record stores the answered message text for the contact and rewrites
// the file atomically.
func (s *Store) Record(contact, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := sjson.SetBytes(s.raw, escapePath(contact), text)
	if err != nil {
		return fmt.Errorf("checkpoint set %q: %w", contact, err)
	}

	if err := writeAtomic(s.path, raw); err != nil {
		return err
	}
	s.raw = raw
	s.entries[contact] = text
	return nil
}

// Reset removes the checkpoint file and clears all entries.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.raw = []byte("{}")
	s.entries = make(map[string]string)
	return nil
}

// Len returns the number of recorded contacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// escapePath escapes sjson path metacharacters so contact names containing
// dots or wildcards address a single literal key.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
