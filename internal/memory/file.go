package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomlabs/loom/pkg/models"
)

// FileStore persists conversations as a single JSON object mapping
// conversation id to its message list. Durable writes are atomic: the whole
// object is written to a temp file and renamed over the target. Writers are
// serialized; readers are not required to tolerate concurrent writers.
type FileStore struct {
	path string

	mu   sync.Mutex
	logs map[string][]*models.Message
}

// NewFileStore opens or creates the store at path, loading existing state.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, logs: make(map[string][]*models.Message)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.logs); err != nil {
			return nil, fmt.Errorf("memory: parse %s: %w", path, err)
		}
	}
	return s, nil
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, conversationID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range messages {
		s.logs[conversationID] = append(s.logs[conversationID], msg.Clone())
	}
	return s.flushLocked()
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[conversationID]
	out := make([]*models.Message, len(log))
	for i, msg := range log {
		out[i] = msg.Clone()
	}
	return out, nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, conversationID)
	return s.flushLocked()
}

// flushLocked writes the whole object via write-then-rename.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.logs, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return fmt.Errorf("memory: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}
