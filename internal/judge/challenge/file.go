package challenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

// FileSource serves challenges from a directory of YAML documents, one
// challenge per *.yaml or *.yml file.
type FileSource struct {
	dir string

	mu         sync.RWMutex
	challenges map[string]*model.Challenge
}

// NewFileSource loads and validates every challenge in dir.
func NewFileSource(dir string) (*FileSource, error) {
	s := &FileSource{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory. On error the previous set stays active.
func (s *FileSource) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read challenge dir: %w", err)
	}
	loaded := make(map[string]*model.Challenge, len(entries))
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		c, err := LoadFile(path)
		if err != nil {
			return err
		}
		if _, dup := loaded[c.ID]; dup {
			return fmt.Errorf("challenge %s defined twice (%s)", c.ID, path)
		}
		loaded[c.ID] = c
	}
	s.mu.Lock()
	s.challenges = loaded
	s.mu.Unlock()
	return nil
}

// LoadFile decodes and validates one challenge document.
func LoadFile(path string) (*model.Challenge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read challenge %s: %w", path, err)
	}
	var c model.Challenge
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse challenge %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid challenge %s: %w", path, err)
	}
	return &c, nil
}

// GetChallenge implements Source.
func (s *FileSource) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	s.mu.RLock()
	c, ok := s.challenges[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
	}
	return c, nil
}

// IDs lists loaded challenge ids.
func (s *FileSource) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.challenges))
	for id := range s.challenges {
		ids = append(ids, id)
	}
	return ids
}
