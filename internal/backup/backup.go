// Package backup keeps point-in-time copies of the state files so a damaged
// sync cache can be rolled back.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/util"
)

const (
	// DirName is the backup directory inside the state directory.
	DirName = "backups"
	// DirPerm is the permission for the backup directory.
	DirPerm = 0o700
	// FilePerm is the permission for backup files. They hold the same data as
	// the state files.
	FilePerm = 0o600
)

// ErrNotFound is returned for an unknown backup id.
var ErrNotFound = errors.New("backup not found")

// Options describes why a backup is taken.
type Options struct {
	RunID  string
	Reason string
}

// Manager creates and restores backups in one directory.
type Manager struct {
	dir string
	now func() time.Time
}

// New returns a manager that keeps backups in stateDir/backups.
func New(stateDir string) *Manager {
	return &Manager{dir: filepath.Join(stateDir, DirName), now: time.Now}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create copies the file at sourcePath into the backup directory. It returns
// nil metadata when the source does not exist yet, and the newest existing
// backup when the content has not changed since.
func (m *Manager) Create(sourcePath string, opts Options) (*Metadata, error) {
	info, err := os.Stat(sourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", sourcePath, err)
	}

	// #nosec G304 - sourcePath is a state file in the configured state directory
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sourcePath, err)
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, b := range idx.sorted() {
		if b.SourcePath != sourcePath {
			continue
		}
		if b.Hash == hash {
			logging.Debug("state unchanged since last backup", logging.Path(sourcePath), logging.BackupID(b.ID))
			return &b, nil
		}
		break
	}

	now := m.now().UTC()
	id := now.Format("20060102-150405.000-") + hash[:8]
	if err := os.MkdirAll(m.dir, DirPerm); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	backupPath := filepath.Join(m.dir, id+filepath.Ext(sourcePath))
	if err := os.WriteFile(backupPath, content, FilePerm); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	meta := Metadata{
		ID:         id,
		SourcePath: sourcePath,
		BackupPath: backupPath,
		CreatedAt:  now,
		ModifiedAt: info.ModTime().UTC(),
		Hash:       hash,
		Size:       info.Size(),
		RunID:      opts.RunID,
		Reason:     opts.Reason,
	}
	idx.Backups[id] = meta
	if err := m.saveIndex(idx); err != nil {
		return nil, err
	}
	logging.Info("backed up state", logging.Path(sourcePath), logging.BackupID(id))
	return &meta, nil
}

// List returns all backups, newest first.
func (m *Manager) List() ([]Metadata, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.sorted(), nil
}

// Latest returns the newest backup of sourcePath.
func (m *Manager) Latest(sourcePath string) (Metadata, bool, error) {
	all, err := m.List()
	if err != nil {
		return Metadata{}, false, err
	}
	for _, b := range all {
		if b.SourcePath == sourcePath {
			return b, true, nil
		}
	}
	return Metadata{}, false, nil
}

func (m *Manager) lookup(id string) (Metadata, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return Metadata{}, err
	}
	meta, ok := idx.Backups[id]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return meta, nil
}

func readVerified(meta Metadata) ([]byte, error) {
	// #nosec G304 - path comes from the backup index
	content, err := os.ReadFile(meta.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", meta.ID, err)
	}
	sum := sha256.Sum256(content)
	if got := hex.EncodeToString(sum[:]); got != meta.Hash {
		return nil, fmt.Errorf("backup %s is corrupted: hash mismatch (expected %s, got %s)", meta.ID, meta.Hash, got)
	}
	return content, nil
}

// Verify checks that a backup file is present and matches its hash.
func (m *Manager) Verify(id string) error {
	meta, err := m.lookup(id)
	if err != nil {
		return err
	}
	_, err = readVerified(meta)
	return err
}

// Restore writes a backup over its source file, or over targetPath when it
// is set. The file being replaced is backed up first.
func (m *Manager) Restore(id, targetPath string) (Metadata, error) {
	meta, err := m.lookup(id)
	if err != nil {
		return Metadata{}, err
	}
	content, err := readVerified(meta)
	if err != nil {
		return Metadata{}, err
	}
	if targetPath == "" {
		targetPath = meta.SourcePath
	}

	if _, err := m.Create(targetPath, Options{Reason: "before restore of " + id}); err != nil {
		return Metadata{}, fmt.Errorf("back up %s before restore: %w", targetPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), DirPerm); err != nil {
		return Metadata{}, fmt.Errorf("create target directory: %w", err)
	}
	if err := util.WriteFileAtomic(targetPath, content, FilePerm); err != nil {
		return Metadata{}, fmt.Errorf("restore %s: %w", targetPath, err)
	}
	logging.Info("restored state from backup", logging.Path(targetPath), logging.BackupID(id))
	return meta, nil
}

// Delete removes a backup file and its index entry.
func (m *Manager) Delete(id string) error {
	idx, err := m.loadIndex()
	if err != nil {
		return err
	}
	meta, ok := idx.Backups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(meta.BackupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete backup file: %w", err)
	}
	delete(idx.Backups, id)
	return m.saveIndex(idx)
}
