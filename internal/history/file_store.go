package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrMalformed reports a history file that could not be decoded or validated.
var ErrMalformed = errors.New("malformed history file")

// FileStore persists a conversation as a JSON array of {role, content}.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path must be provided")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load reads the stored conversation. A missing or empty file yields an empty
// history; anything undecodable or invalid wraps ErrMalformed.
func (s *FileStore) Load() (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &History{}, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	var messages []Message
	if err := dec.Decode(&messages); err != nil {
		if errors.Is(err, io.EOF) {
			return &History{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// the array must be the only value in the file
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after history", ErrMalformed)
	}

	h, err := FromMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return h, nil
}

// Save replaces the stored conversation atomically.
func (s *FileStore) Save(h *History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := h.Messages()
	if messages == nil {
		messages = []Message{}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(messages); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode history: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close history temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// Remove deletes the stored conversation.
func (s *FileStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
