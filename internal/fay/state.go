package fay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BuildState records which stages finished and which packages this
// orchestrator installed. It is owned and persisted by the Orchestrator
// alone; nothing else writes it.
type BuildState struct {
	CompletedStages []int             `json:"completed_stages"`
	Installed       map[string]string `json:"installed"` // name -> version
	UpdatedAt       time.Time         `json:"updated_at"`
}

func newBuildState() *BuildState {
	return &BuildState{Installed: make(map[string]string)}
}

// loadBuildState reads the persisted state, returning a fresh value when
// none exists yet.
func loadBuildState(path string) (*BuildState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newBuildState(), nil
		}
		return nil, fmt.Errorf("failed to read build state: %w", err)
	}
	st := newBuildState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("corrupt build state %s: %w", path, err)
	}
	if st.Installed == nil {
		st.Installed = make(map[string]string)
	}
	return st, nil
}

func (s *BuildState) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write build state: %w", err)
	}
	return os.Rename(tmp, path)
}

// StageDone reports whether a stage already completed in a previous run.
func (s *BuildState) StageDone(stage int) bool {
	for _, n := range s.CompletedStages {
		if n == stage {
			return true
		}
	}
	return false
}

// MarkStage records a completed stage.
func (s *BuildState) MarkStage(stage int) {
	if s.StageDone(stage) {
		return
	}
	s.CompletedStages = append(s.CompletedStages, stage)
	sort.Ints(s.CompletedStages)
}
