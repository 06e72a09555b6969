package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session persists the active layers, bottom first, with their attributes.
type Session struct {
	dataDir string
	mu      sync.Mutex
}

// NewSession stores the session under dataDir. An empty dataDir disables
// persistence.
func NewSession(dataDir string) *Session {
	return &Session{dataDir: dataDir}
}

// configFile returns the path to the session file.
func (s *Session) configFile() string {
	return filepath.Join(s.dataDir, "layers.json")
}

// Load returns the saved layer definitions. A missing file is an empty session.
func (s *Session) Load() ([]LayerDefinition, error) {
	if s == nil || s.dataDir == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.configFile())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var defs []LayerDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", s.configFile(), err)
	}
	return defs, nil
}

// Save replaces the saved session with layers.
func (s *Session) Save(layers []*Layer) error {
	if s == nil || s.dataDir == "" {
		return nil
	}
	defs := make([]LayerDefinition, 0, len(layers))
	for _, l := range layers {
		defs = append(defs, l.Definition())
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	tmp := s.configFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.configFile())
}

// GenerateID creates a URL-safe ID from a name. Names without any usable
// character get a random id.
func GenerateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return uuid.NewString()
	}
	return result.String()
}
