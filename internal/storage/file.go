package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "shopwatch/pkg/logx"
)

const defaultFilePath = "./subscribers.json"

// fileStore keeps the set as one JSON array of strings.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.writeLocked(nil); err != nil {
			return nil, false, err
		}
		s.log.Info("subscriber file created", logx.String("path", s.path))
		return []string{}, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}

	var ids []string
	if err := json.Unmarshal(bytes.TrimSpace(b), &ids); err != nil {
		return nil, true, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, s.path, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, true, nil
}

func (s *fileStore) Save(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeLocked(ids)
}

// writeLocked writes the full set to a temp file and renames it over the
// target, so a crash mid-write never leaves a truncated file behind.
func (s *fileStore) writeLocked(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
