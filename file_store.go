package coordinate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists coordination records as JSON files in a directory,
// one file per record. It is suitable for single-node deployments and for
// the persistent-CLI style of embedding.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a file-based store rooted at basePath, creating the
// directory if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save persists the record to a JSON file.
func (f *FileStore) Save(ctx context.Context, record *CoordinationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record.Version++
	record.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.WriteFile(f.filename(record.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	return nil
}

// Load retrieves a record from its JSON file.
func (f *FileStore) Load(ctx context.Context, id CoordinationID) (*CoordinationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(f.filename(id))
}

// ListNonTerminal scans the directory for records with a non-terminal
// status.
func (f *FileStore) ListNonTerminal(ctx context.Context) ([]*CoordinationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var out []*CoordinationRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := f.read(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			return nil, err
		}
		if !record.Status.Terminal() {
			out = append(out, record)
		}
	}
	return out, nil
}

// Delete removes the record file. Deleting an absent record is not an
// error.
func (f *FileStore) Delete(ctx context.Context, id CoordinationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(id)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

func (f *FileStore) read(filename string) (*CoordinationRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("coordination record not found at %s", filename)
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	var record CoordinationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

func (f *FileStore) filename(id CoordinationID) string {
	return filepath.Join(f.basePath, id.String()+".json")
}
