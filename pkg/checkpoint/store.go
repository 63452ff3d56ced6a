// Copyright 2025 Inlet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists session documents keyed by session id.
type Store interface {
	Save(ctx context.Context, doc *Document) error
	Load(ctx context.Context, sessionID string) (*Document, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

// FileStore keeps one JSON file per session under a directory. Writes go
// through a temp file and rename so a crash never leaves a torn document.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *slog.Logger
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: slog.Default().With("component", "checkpoint"),
	}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("cannot save nil document")
	}
	if doc.SessionID == "" {
		return fmt.Errorf("session id is required")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, doc.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.SessionID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}

	s.log.Debug("saved checkpoint",
		"session_id", doc.SessionID,
		"messages", len(doc.Messages),
		"iteration", doc.TaskState.Iteration)
	return nil
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (*Document, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path(sessionID))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("no checkpoint for session %s: %w", sessionID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for session %s: %w", sessionID, err)
	}
	return &doc, nil
}

func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
