// Package snapshot persists a full point-in-time copy of the KV engine's
// in-memory map, independent of internal/store, the way Deepu-b-Hermes
// keeps its snapshot package free of a dependency on store — letting the
// format evolve without import cycles back into the engine.
package snapshot

import (
	"os"

	json "github.com/goccy/go-json"

	"kvreplica/internal/value"
)

// Store manages the on-disk snapshot file for one node's data directory.
type Store struct {
	path string
}

// New returns a Store rooted at path (spec.md §6: "<data_dir>/db.snapshot").
func New(path string) *Store {
	return &Store{path: path}
}

// Save serializes data to a temp file adjacent to the snapshot path,
// forces it to disk, then atomically renames it over the final path
// (spec.md §4.3 steps 1-3). On any failure before the rename the temp
// file is removed and the existing snapshot is left untouched.
func (s *Store) Save(data map[string]value.Value) error {
	tmp := s.path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads the snapshot file, returning (nil, false, nil) if it does
// not exist. A snapshot that exists but fails to decode is reported via
// (nil, false, nil) as well — spec.md §4.3's recovery order says to start
// from empty data in that case rather than fail startup, so the caller
// cannot tell "absent" from "corrupt" and doesn't need to.
func (s *Store) Load() (map[string]value.Value, bool, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var data map[string]value.Value
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, false, nil
	}
	return data, true, nil
}
