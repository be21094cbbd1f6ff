package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/util"
)

// JSONFileName is the default file name of the JSON store.
const JSONFileName = "sync_cache.json"

// JSONStore keeps the whole cache in one JSON document, replaced atomically
// on every save.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for the file at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Location implements Store.
func (s *JSONStore) Location() string {
	return s.path
}

// Load implements Store.
func (s *JSONStore) Load(_ context.Context) (*Snapshot, error) {
	// #nosec G304 - path is constructed from the configured state directory
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, apperr.CorruptState(s.path, err)
	}

	snap := emptySnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, apperr.CorruptState(s.path, err)
	}
	if snap.Version == 0 {
		return nil, apperr.CorruptState(s.path, errors.New("missing version field"))
	}
	return snap, nil
}

// Save implements Store.
func (s *JSONStore) Save(_ context.Context, snap *Snapshot, _ []Change) error {
	snap.Version = SchemaVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	return util.WriteFileAtomic(s.path, append(data, '\n'), 0o600)
}

// Close implements Store.
func (s *JSONStore) Close() error {
	return nil
}
