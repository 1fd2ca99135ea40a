package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DeviceSnapshot is the saved state of one device.
type DeviceSnapshot struct {
	Command string `json:"command,omitempty"`
	Record
}

// Snapshot is the full relay state as written by a Backend.
type Snapshot struct {
	SavedAt time.Time                 `json:"saved_at"`
	Devices map[string]DeviceSnapshot `json:"devices"`
}

// Backend persists relay snapshots. Load returns a nil snapshot when nothing
// has been saved yet.
type Backend interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}

// MemoryBackend keeps only the most recent snapshot in memory. Nothing
// survives a restart.
type MemoryBackend struct {
	mu   sync.Mutex
	last *Snapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, nil
}

func (b *MemoryBackend) Save(snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = snap
	return nil
}

// FileBackend stores snapshots as a JSON file. Writes go to a temp file in
// the same directory and are renamed over the target, so readers never see a
// partial file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the state file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the state file. A missing file is not an error.
func (b *FileBackend) Load() (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &snap, nil
}

// Save writes snap atomically.
func (b *FileBackend) Save(snap *Snapshot) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".esprelay-state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
