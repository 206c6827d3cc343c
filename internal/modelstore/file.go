package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

const (
	currentFile = "CURRENT"
	modelExt    = ".json"
)

// FileStore keeps one JSON artifact per model generation plus a CURRENT
// pointer file. Both are written to a temp file and renamed into place, so a
// reader sees either the old or the new model.
type FileStore struct {
	dir    string
	retain int
	mu     sync.Mutex
}

// NewFileStore creates the artifact directory if needed.
// retain is the number of superseded generations kept next to the current one.
func NewFileStore(dir string, retain int) (*FileStore, error) {
	if dir == "" {
		dir = "./models"
	}
	if retain < 0 {
		retain = 0
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &FileStore{dir: dir, retain: retain}, nil
}

// SaveModel writes the model artifact and makes it current.
func (s *FileStore) SaveModel(ctx context.Context, model *domain.ClassifierModel) error {
	if model == nil {
		return fmt.Errorf("model is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := fileName(model.Key())
	if err := s.writeAtomic(name, data); err != nil {
		return fmt.Errorf("failed to write model %s: %w", name, err)
	}
	if err := s.writeAtomic(currentFile, []byte(name+"\n")); err != nil {
		return fmt.Errorf("failed to update current model pointer: %w", err)
	}

	if err := s.prune(name); err != nil {
		slog.Warn("failed to prune model history", "dir", s.dir, "error", err)
	}
	return nil
}

// LoadModel reads the model named by CURRENT.
func (s *FileStore) LoadModel(ctx context.Context) (*domain.ClassifierModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pointer, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current model pointer: %w", err)
	}

	name := strings.TrimSpace(string(pointer))
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact %s is missing", domain.ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", name, err)
	}

	var model domain.ClassifierModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", name, err)
	}
	return &model, nil
}

// Versions lists stored artifact names, newest first.
func (s *FileStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), modelExt) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return trainedStamp(names[i]) > trainedStamp(names[j])
	})
	return names, nil
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *FileStore) prune(current string) error {
	names, err := s.Versions()
	if err != nil {
		return err
	}

	kept := 0
	for _, name := range names {
		if name == current {
			continue
		}
		if kept < s.retain {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// fileName maps a model key to a safe artifact name.
func fileName(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return safe + modelExt
}

// trainedStamp returns the fixed-width timestamp suffix of an artifact name.
func trainedStamp(name string) string {
	base := strings.TrimSuffix(name, modelExt)
	if i := strings.LastIndex(base, "-"); i >= 0 {
		return base[i+1:]
	}
	return base
}
