// Package memory keeps run history in process memory.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/store"
)

// RunStore implements pipeline.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]pipeline.Run
}

// NewRunStore returns an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]pipeline.Run)}
}

// SaveRun inserts or replaces the run with the same ID.
func (s *RunStore) SaveRun(_ context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	s.runs[run.ID] = run.Clone()
	s.mu.Unlock()
	return nil
}

// GetRun returns store.ErrRunNotFound for unknown IDs.
func (s *RunStore) GetRun(_ context.Context, id string) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return pipeline.Run{}, store.ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	s.mu.RLock()
	out := make([]pipeline.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.After(out[j].Started)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
