package backup

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/util"
)

// Metadata describes one state backup.
type Metadata struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	BackupPath string    `json:"backup_path"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"` // of the source file
	Hash       string    `json:"hash"`        // SHA-256 of the content
	Size       int64     `json:"size"`
	RunID      string    `json:"run_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Index lists every backup in a backup directory.
type Index struct {
	Version string              `json:"version"`
	Updated time.Time           `json:"updated"`
	Backups map[string]Metadata `json:"backups"`
}

const (
	// IndexVersion is the current version of the index format.
	IndexVersion = "1.0"
	// IndexFilename is the name of the index file inside the backup directory.
	IndexFilename = "index.json"
)

func (m *Manager) indexPath() string {
	return filepath.Join(m.dir, IndexFilename)
}

// loadIndex reads the index. A missing index is an empty one.
func (m *Manager) loadIndex() (*Index, error) {
	path := m.indexPath()
	// #nosec G304 - path is inside the configured state directory
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{Version: IndexVersion, Backups: map[string]Metadata{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, apperr.CorruptState(path, err)
	}
	if idx.Backups == nil {
		idx.Backups = map[string]Metadata{}
	}
	return &idx, nil
}

func (m *Manager) saveIndex(idx *Index) error {
	if err := os.MkdirAll(m.dir, DirPerm); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	idx.Version = IndexVersion
	idx.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backup index: %w", err)
	}
	if err := util.WriteFileAtomic(m.indexPath(), append(data, '\n'), FilePerm); err != nil {
		return fmt.Errorf("write backup index: %w", err)
	}
	return nil
}

// sorted returns the backups newest first.
func (idx *Index) sorted() []Metadata {
	out := make([]Metadata, 0, len(idx.Backups))
	for _, b := range idx.Backups {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Metadata) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}
