// Package storage persists valuation snapshots to disk.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/optrisk/internal/portfolio"
)

// ErrNoSnapshots is returned when no valuation snapshot has been recorded.
var ErrNoSnapshots = errors.New("no snapshots recorded")

// Snapshot is one persisted valuation pass.
type Snapshot struct {
	ID        string                        `json:"id"`
	Taken     time.Time                     `json:"taken"`
	Summary   portfolio.Summary             `json:"summary"`
	Positions []portfolio.PositionValuation `json:"positions"`
}

// Interface defines the contract for snapshot persistence.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe.
type Interface interface {
	RecordSnapshot(snap *Snapshot) error
	LatestSnapshot() (*Snapshot, error)
	History() []Snapshot

	Save() error
	Load() error
}

// NewStorage creates the default JSON-backed snapshot store.
func NewStorage(filepath string, maxHistory int) (Interface, error) {
	return NewJSONStorage(filepath, maxHistory)
}

// JSONStorage persists snapshots to a single JSON file with atomic
// writes. A sync.RWMutex serializes access for concurrent callers.
type JSONStorage struct {
	mu         sync.RWMutex
	filepath   string
	maxHistory int
	data       *storageData
}

type storageData struct {
	Snapshots   []Snapshot `json:"snapshots"`
	LastUpdated time.Time  `json:"last_updated"`
}

var _ Interface = (*JSONStorage)(nil)

// NewJSONStorage opens (or initializes) the snapshot file at filepath.
func NewJSONStorage(filepath string, maxHistory int) (*JSONStorage, error) {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	s := &JSONStorage{
		filepath:   filepath,
		maxHistory: maxHistory,
		data:       &storageData{},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the snapshot file from disk.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s.data)
}

// Save writes the snapshot file via temp file and atomic rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// RecordSnapshot appends a snapshot, assigns it an ID if absent, trims
// history to the configured bound, and persists.
func (s *JSONStorage) RecordSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Taken.IsZero() {
		snap.Taken = time.Now().UTC()
	}

	s.data.Snapshots = append(s.data.Snapshots, *snap)
	if excess := len(s.data.Snapshots) - s.maxHistory; excess > 0 {
		s.data.Snapshots = s.data.Snapshots[excess:]
	}

	return s.saveLocked()
}

// LatestSnapshot returns the most recent snapshot.
func (s *JSONStorage) LatestSnapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data.Snapshots) == 0 {
		return nil, ErrNoSnapshots
	}
	snap := s.data.Snapshots[len(s.data.Snapshots)-1]
	return &snap, nil
}

// History returns a copy of all retained snapshots, oldest first.
func (s *JSONStorage) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]Snapshot, len(s.data.Snapshots))
	copy(history, s.data.Snapshots)
	return history
}
