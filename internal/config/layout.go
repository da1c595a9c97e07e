package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout is the viewport arrangement a simulate session ends with. The next
// session can restore it to pick up where the previous one stopped.
type Layout struct {
	// Mode is the sync mode the session ran with.
	Mode string `yaml:"mode,omitempty"`
	// Viewports are the session's viewports with their final positions.
	Viewports []LayoutViewport `yaml:"viewports,omitempty"`
	// UpdatedAt is when the layout was saved.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// LayoutViewport is one saved viewport.
type LayoutViewport struct {
	ViewportConfig `yaml:",inline"`
	// Leftmost is the first visible timestamp when the layout was saved.
	Leftmost time.Time `yaml:"leftmost,omitempty"`
}

// IsEmpty returns true if the layout has no viewports.
func (l *Layout) IsEmpty() bool {
	return len(l.Viewports) == 0
}

// Position returns the saved leftmost timestamp for viewport, if any.
func (l *Layout) Position(viewport ViewportConfig) (time.Time, bool) {
	for _, saved := range l.Viewports {
		if saved.ViewportConfig == viewport && !saved.Leftmost.IsZero() {
			return saved.Leftmost, true
		}
	}
	return time.Time{}, false
}

// LayoutStore manages loading and saving the layout file.
type LayoutStore struct {
	path string
	mu   sync.RWMutex
}

// NewLayoutStore creates a layout store at path.
// If path is empty, uses the default path (~/.config/scrollsync/layout.yaml).
func NewLayoutStore(path string) *LayoutStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "scrollsync", "layout.yaml")
	}
	return &LayoutStore{path: path}
}

// Path returns the layout file path.
func (s *LayoutStore) Path() string {
	return s.path
}

// Load reads the layout from disk.
// Returns an empty layout if the file doesn't exist.
func (s *LayoutStore) Load() (*Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layout := &Layout{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return layout, nil
		}
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}

	if err := yaml.Unmarshal(data, layout); err != nil {
		return nil, fmt.Errorf("failed to parse layout file: %w", err)
	}

	return layout, nil
}

// Save writes the layout to disk, stamping UpdatedAt.
func (s *LayoutStore) Save(layout *Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}

	layout.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to serialize layout: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write layout file: %w", err)
	}

	return nil
}

// Clear removes the layout file.
func (s *LayoutStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove layout file: %w", err)
	}
	return nil
}
