package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mkarlsen/consensus-router/internal/audit"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/metrics"
)

// Document is the on-disk snapshot format. Every field is optional on
// load; anything absent defaults to empty state.
type Document struct {
	Version  int                                `json:"version"`
	SavedAt  time.Time                          `json:"saved_at"`
	Circuits map[string]circuitbreaker.Snapshot `json:"circuits,omitempty"`
	Metrics  map[string]metrics.Snapshot        `json:"metrics,omitempty"`
	Events   []audit.Event                      `json:"events,omitempty"`
}

const currentVersion = 1

// Store persists circuit, metrics and audit state across restarts.
// Writes go to a temp file followed by an atomic rename so a crash
// mid-write never corrupts the last good snapshot; reads are best-effort
// and a bad file is treated as empty state.
type Store struct {
	mutex    sync.Mutex
	path     string
	circuits *circuitbreaker.Registry
	tracker  *metrics.Tracker
	trail    *audit.Trail
	logger   *slog.Logger
}

func New(
	path string,
	circuits *circuitbreaker.Registry,
	tracker *metrics.Tracker,
	trail *audit.Trail,
	logger *slog.Logger,
) *Store {
	return &Store{
		path:     path,
		circuits: circuits,
		tracker:  tracker,
		trail:    trail,
		logger:   logger,
	}
}

// Persist writes the current snapshot. Concurrent callers are serialized;
// the previous snapshot survives any failure.
func (s *Store) Persist() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	doc := Document{
		Version:  currentVersion,
		SavedAt:  time.Now(),
		Circuits: s.circuits.StatusSnapshot(),
		Metrics:  s.tracker.SnapshotAll(),
		Events:   s.trail.Recent(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

// Load restores state from the snapshot file. A missing, unreadable or
// corrupted snapshot logs a warning and leaves the process starting from
// empty state; load never fails the caller.
func (s *Store) Load() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no snapshot found, starting empty",
				slog.String("path", s.path))
		} else {
			s.logger.Warn("snapshot unreadable, starting empty",
				slog.String("path", s.path),
				slog.Any("err", err))
		}
		return
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("snapshot corrupted, starting empty",
			slog.String("path", s.path),
			slog.Any("err", err))
		return
	}

	s.circuits.Restore(doc.Circuits)
	s.tracker.Restore(doc.Metrics)
	s.trail.Restore(doc.Events)

	s.logger.Info("snapshot loaded",
		slog.String("path", s.path),
		slog.Int("circuits", len(doc.Circuits)),
		slog.Int("backends", len(doc.Metrics)),
		slog.Int("events", len(doc.Events)))
}
