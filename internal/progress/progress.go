package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Tracker maps a dataset to the index of its last viewed card, used to
// resume learn-mode sessions.
type Tracker interface {
	// LastIndex returns the stored index for a dataset, or 0 if none.
	LastIndex(datasetID int64) int
	// SetLastIndex stores the index for a dataset.
	SetLastIndex(datasetID int64, index int) error
	// Delete drops the entry for a dataset, if any.
	Delete(datasetID int64) error
}

// FileTracker persists progress as a single JSON document mapping dataset
// IDs (as string keys) to card indices. A missing or corrupt document reads
// as empty and is rewritten cleanly by the next successful write. Reads and
// writes work on the whole document; concurrent writers are not serialized
// beyond this process.
type FileTracker struct {
	path string
	mu   sync.Mutex
}

func NewFileTracker(path string) *FileTracker {
	return &FileTracker{path: path}
}

func (t *FileTracker) LastIndex(datasetID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()[key(datasetID)]
}

func (t *FileTracker) SetLastIndex(datasetID int64, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.read()
	doc[key(datasetID)] = index
	return t.write(doc)
}

func (t *FileTracker) Delete(datasetID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.read()
	if _, ok := doc[key(datasetID)]; !ok {
		return nil
	}
	delete(doc, key(datasetID))
	return t.write(doc)
}

func (t *FileTracker) read() map[string]int {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read progress file, treating as empty", "path", t.path, "error", err)
		}
		return map[string]int{}
	}

	doc := map[string]int{}
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("Progress file is corrupt, treating as empty", "path", t.path, "error", err)
		return map[string]int{}
	}
	return doc
}

func (t *FileTracker) write(doc map[string]int) error {
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create progress directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress data: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	return nil
}

func key(datasetID int64) string {
	return strconv.FormatInt(datasetID, 10)
}

// MemoryTracker keeps progress in memory. It backs tests and any deployment
// that does not care about resuming across restarts.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[int64]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: map[int64]int{}}
}

func (t *MemoryTracker) LastIndex(datasetID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[datasetID]
}

func (t *MemoryTracker) SetLastIndex(datasetID int64, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[datasetID] = index
	return nil
}

func (t *MemoryTracker) Delete(datasetID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, datasetID)
	return nil
}
