package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauern/postsync/internal/util"
)

// clock returns a manager whose clock advances one minute per call.
func clock(t *testing.T, stateDir string) *Manager {
	t.Helper()
	m := New(stateDir)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		at = at.Add(time.Minute)
		return at
	}
	return m
}

func TestCreate(t *testing.T) {
	dir := util.CreateTempDir(t)
	src := filepath.Join(dir, "sync_cache.json")
	util.WriteFile(t, src, `{"version":1}`)

	m := clock(t, dir)
	meta, err := m.Create(src, Options{RunID: "run-1", Reason: "before run"})
	util.AssertNoError(t, err)

	util.AssertEqual(t, meta.SourcePath, src)
	util.AssertEqual(t, meta.RunID, "run-1")
	util.AssertEqual(t, meta.Size, int64(len(`{"version":1}`)))
	util.AssertEqual(t, len(meta.Hash), 64)
	util.AssertEqual(t, filepath.Dir(meta.BackupPath), filepath.Join(dir, DirName))
	util.AssertEqual(t, filepath.Ext(meta.BackupPath), ".json")

	content, err := os.ReadFile(meta.BackupPath)
	util.AssertNoError(t, err)
	util.AssertEqual(t, string(content), `{"version":1}`)

	if _, err := os.Stat(filepath.Join(dir, DirName, IndexFilename)); err != nil {
		t.Errorf("index not written: %v", err)
	}
}

func TestCreateMissingSource(t *testing.T) {
	dir := util.CreateTempDir(t)
	meta, err := New(dir).Create(filepath.Join(dir, "sync_cache.json"), Options{})
	util.AssertNoError(t, err)
	if meta != nil {
		t.Errorf("Create() = %+v, want nil for a missing file", meta)
	}
	if _, err := os.Stat(filepath.Join(dir, DirName)); !os.IsNotExist(err) {
		t.Error("backup directory should not be created when there is nothing to back up")
	}
}

func TestCreateSkipsUnchangedContent(t *testing.T) {
	dir := util.CreateTempDir(t)
	src := filepath.Join(dir, "sync_cache.json")
	util.WriteFile(t, src, "one")
	m := clock(t, dir)

	first, err := m.Create(src, Options{})
	util.AssertNoError(t, err)
	again, err := m.Create(src, Options{})
	util.AssertNoError(t, err)
	util.AssertEqual(t, again.ID, first.ID)

	util.WriteFile(t, src, "two")
	changed, err := m.Create(src, Options{})
	util.AssertNoError(t, err)
	if changed.ID == first.ID {
		t.Error("changed content should produce a new backup")
	}

	all, err := m.List()
	util.AssertNoError(t, err)
	util.AssertEqual(t, len(all), 2)
	util.AssertEqual(t, all[0].ID, changed.ID)
}

func TestRestore(t *testing.T) {
	dir := util.CreateTempDir(t)
	src := filepath.Join(dir, "sync_cache.json")
	util.WriteFile(t, src, "good state")
	m := clock(t, dir)

	good, err := m.Create(src, Options{})
	util.AssertNoError(t, err)

	util.WriteFile(t, src, "{broken")
	_, err = m.Restore(good.ID, "")
	util.AssertNoError(t, err)

	content, err := os.ReadFile(src)
	util.AssertNoError(t, err)
	util.AssertEqual(t, string(content), "good state")

	// The broken file was kept before being replaced.
	latest, ok, err := m.Latest(src)
	util.AssertNoError(t, err)
	if !ok || !strings.HasPrefix(latest.Reason, "before restore") {
		t.Errorf("Latest() = %+v, %v; want the pre-restore backup", latest, ok)
	}
}

func TestRestoreDetectsTampering(t *testing.T) {
	dir := util.CreateTempDir(t)
	src := filepath.Join(dir, "sync_cache.json")
	util.WriteFile(t, src, "state")
	m := clock(t, dir)

	meta, err := m.Create(src, Options{})
	util.AssertNoError(t, err)
	util.WriteFile(t, meta.BackupPath, "tampered")

	util.AssertErrorContains(t, m.Verify(meta.ID), "hash mismatch")
	if _, err := m.Restore(meta.ID, ""); err == nil {
		t.Error("Restore() should refuse a corrupted backup")
	}
}

func TestUnknownBackup(t *testing.T) {
	m := New(util.CreateTempDir(t))
	for name, fn := range map[string]func() error{
		"verify":  func() error { return m.Verify("nope") },
		"delete":  func() error { return m.Delete("nope") },
		"restore": func() error { _, err := m.Restore("nope", ""); return err },
	} {
		if err := fn(); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestCorruptIndex(t *testing.T) {
	dir := util.CreateTempDir(t)
	util.WriteFile(t, filepath.Join(dir, DirName, IndexFilename), "not json")
	_, err := New(dir).List()
	util.AssertErrorContains(t, err, IndexFilename)
}
