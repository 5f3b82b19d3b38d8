package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File permission constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Defaults are the user-tunable transition parameters persisted with
// each snapshot.
type Defaults struct {
	// WatchVolume is the speaker volume applied when entering watch.
	WatchVolume int `json:"watch_volume"`

	// ListenVolume is the speaker volume applied when entering listen.
	ListenVolume int `json:"listen_volume"`

	// ListenStation is the station or playlist started when entering
	// listen.
	ListenStation string `json:"listen_station"`
}

// Snapshot is the durable record of a room's committed state.
//
// It is written after every committed transition and state change, and
// read once at startup to seed recovery. It never stores in-flight
// transition data: a crash mid-transition recovers to the last
// committed state.
type Snapshot struct {
	// Activity is the committed activity ("off", "watch", "listen").
	Activity string `json:"activity"`

	// Volume is the last committed room volume.
	Volume int `json:"volume"`

	// Source is the last committed speaker source.
	Source string `json:"source,omitempty"`

	// Defaults are the transition parameters in force at commit time.
	Defaults Defaults `json:"defaults"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`
}

// Store persists room snapshots as JSON files, one per room.
//
// Writes are atomic: the snapshot is written to a temporary file in
// the same directory and renamed over the target, so a crash mid-write
// leaves the previous snapshot intact rather than a torn file.
//
// Thread Safety:
//   - Safe for concurrent use across rooms. Callers serialise writes
//     for a single room (the orchestrator holds its transition lock
//     across persist).
type Store struct {
	dataDir string
}

// New creates a store rooted at dataDir, creating the directory if
// needed.
//
// Parameters:
//   - dataDir: Directory to hold snapshot files
//
// Returns:
//   - *Store: Ready store
//   - error: If the directory cannot be created
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

// path returns the snapshot file path for a room.
func (s *Store) path(roomID string) string {
	return filepath.Join(s.dataDir, roomID+".json")
}

// Save writes the room's snapshot atomically.
//
// The write goes to a temporary file first and is renamed into place,
// so readers and crash recovery always see a complete snapshot.
//
// Parameters:
//   - roomID: Room whose snapshot to write
//   - snap: Snapshot to persist (SavedAt is stamped here)
//
// Returns:
//   - error: If marshalling or any filesystem step fails
func (s *Store) Save(roomID string, snap Snapshot) error {
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	target := s.path(roomID)
	tmp, err := os.CreateTemp(s.dataDir, roomID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()         //nolint:errcheck // error path cleanup
		os.Remove(tmpName)  //nolint:errcheck // error path cleanup
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck // error path cleanup
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("closing snapshot: %w", err)
	}

	if err := os.Chmod(tmpName, filePermissions); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck // error path cleanup
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reads the room's snapshot.
//
// Returns:
//   - *Snapshot: The persisted snapshot, or nil when none exists
//   - error: If the file exists but cannot be read or parsed
func (s *Store) Load(roomID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}
