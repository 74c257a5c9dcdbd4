// Package history keeps the outcome of every deposit workflow on disk so
// deposits with funds still in flight can be looked up after the process
// exits.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"vault-deposit/pkg/orchestrator"
)

const (
	DefaultFileName = ".vault-deposit-history.json"
)

// Store persists workflow outcomes as a single JSON file
type Store struct {
	filePath string
	mu       sync.RWMutex
	outcomes map[string]*orchestrator.Outcome
}

// fileFormat is the JSON layout of the history file
type fileFormat struct {
	Outcomes map[string]*orchestrator.Outcome `json:"outcomes"`
}

// NewStore opens the history file, or the default file in the home
// directory when filePath is empty
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &Store{
		filePath: filePath,
		outcomes: make(map[string]*orchestrator.Outcome),
	}

	// A missing file is created on the first Record
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var stored fileFormat
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	if stored.Outcomes != nil {
		s.outcomes = stored.Outcomes
	}
	return nil
}

// saveLocked writes the file through a temporary file and a rename. The
// caller holds the lock.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(fileFormat{Outcomes: s.outcomes}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Record stores an outcome, replacing an earlier one for the same workflow
func (s *Store) Record(outcome *orchestrator.Outcome) error {
	if outcome == nil || outcome.WorkflowID == "" {
		return fmt.Errorf("outcome has no workflow id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[outcome.WorkflowID] = outcome
	return s.saveLocked()
}

// Get retrieves an outcome by workflow id
func (s *Store) Get(workflowID string) (*orchestrator.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcome, exists := s.outcomes[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow '%s' not found", workflowID)
	}
	return outcome, nil
}

// List returns all outcomes, newest first
func (s *Store) List() []*orchestrator.Outcome {
	return s.filter(func(*orchestrator.Outcome) bool { return true })
}

// ListFailed returns the failed outcomes, newest first
func (s *Store) ListFailed() []*orchestrator.Outcome {
	return s.filter(func(o *orchestrator.Outcome) bool { return o.Failure != nil })
}

// ListInFlight returns failures whose bridged funds may still arrive
func (s *Store) ListInFlight() []*orchestrator.Outcome {
	return s.filter(func(o *orchestrator.Outcome) bool {
		return o.Failure != nil && o.Failure.FundsInFlight()
	})
}

func (s *Store) filter(keep func(*orchestrator.Outcome) bool) []*orchestrator.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcomes := make([]*orchestrator.Outcome, 0, len(s.outcomes))
	for _, outcome := range s.outcomes {
		if keep(outcome) {
			outcomes = append(outcomes, outcome)
		}
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].StartedAt.After(outcomes[j].StartedAt)
	})
	return outcomes
}

// Count returns the number of recorded outcomes
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

// FilePath returns the history file location
func (s *Store) FilePath() string {
	return s.filePath
}
