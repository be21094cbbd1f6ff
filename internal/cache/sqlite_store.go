package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/model"
)

// SQLiteFileName is the default file name of the SQLite store.
const SQLiteFileName = "sync_cache.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_records (
	source_platform TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	dest_platform   TEXT NOT NULL,
	dest_id         TEXT NOT NULL DEFAULT '',
	synced_at       TEXT NOT NULL,
	PRIMARY KEY (source_platform, source_id)
);
CREATE INDEX IF NOT EXISTS idx_sync_records_dest ON sync_records(dest_platform, dest_id);
CREATE TABLE IF NOT EXISTS favorites (
	platform    TEXT NOT NULL,
	favorite_id TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (platform, favorite_id)
);
CREATE TABLE IF NOT EXISTS watermarks (
	platform   TEXT NOT NULL,
	direction  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	id         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (platform, direction)
);
`

// SQLiteStore keeps the cache in an embedded SQLite database and applies
// changes row by row instead of rewriting everything.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore returns a store for the database at path. The database is
// opened lazily by Load.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Location implements Store.
func (s *SQLiteStore) Location() string {
	return s.path
}

// failure classifies an error reading the database. Locks held by another
// process and unreadable files are not corruption; restoring a backup would
// not help with them.
func (s *SQLiteStore) failure(err error) error {
	for _, code := range []sqlite3.ErrorCode{sqlite3.BUSY, sqlite3.LOCKED, sqlite3.CANTOPEN, sqlite3.PERM, sqlite3.READONLY, sqlite3.IOERR} {
		if errors.Is(err, code) {
			return fmt.Errorf("sqlite store %s: %w", s.path, err)
		}
	}
	return apperr.CorruptState(s.path, err)
}

func (s *SQLiteStore) open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Writes are serialized by the cache; one connection avoids lock contention.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return s.failure(err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return s.failure(err)
	}
	s.db = db
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	snap := emptySnapshot()

	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, s.failure(err)
	default:
		v, convErr := strconv.Atoi(version)
		if convErr != nil {
			return nil, apperr.CorruptState(s.path, fmt.Errorf("bad schema version %q", version))
		}
		snap.Version = v
	}

	if err := s.loadSyncs(ctx, snap); err != nil {
		return nil, s.failure(err)
	}
	if err := s.loadFavorites(ctx, snap); err != nil {
		return nil, s.failure(err)
	}
	if err := s.loadWatermarks(ctx, snap); err != nil {
		return nil, s.failure(err)
	}
	return snap, nil
}

func (s *SQLiteStore) loadSyncs(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_platform, source_id, dest_platform, dest_id, synced_at FROM sync_records`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec model.SyncRecord
		var src, dst, syncedAt string
		if err := rows.Scan(&src, &rec.SourceID, &dst, &rec.DestID, &syncedAt); err != nil {
			return err
		}
		rec.SourcePlatform = model.Platform(src)
		rec.DestPlatform = model.Platform(dst)
		if rec.SyncedAt, err = parseTime(syncedAt); err != nil {
			return err
		}
		snap.Syncs = append(snap.Syncs, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadFavorites(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT platform, favorite_id, created_at FROM favorites`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec model.FavoriteRecord
		var platform, createdAt string
		if err := rows.Scan(&platform, &rec.FavoriteID, &createdAt); err != nil {
			return err
		}
		rec.Platform = model.Platform(platform)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		snap.Favorites = append(snap.Favorites, rec)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadWatermarks(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT platform, direction, created_at, id FROM watermarks`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var wm model.Watermark
		var platform, direction, createdAt string
		if err := rows.Scan(&platform, &direction, &createdAt, &wm.ID); err != nil {
			return err
		}
		wm.Platform = model.Platform(platform)
		wm.Direction = model.Direction(direction)
		if wm.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		snap.Watermarks = append(snap.Watermarks, wm)
	}
	return rows.Err()
}

// Save implements Store by applying changes inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, _ *Snapshot, changes []Change) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}

	for _, ch := range changes {
		if err := applyChange(ctx, tx, ch); err != nil {
			return fmt.Errorf("apply %s: %w", ch.Op, err)
		}
	}
	return tx.Commit()
}

func applyChange(ctx context.Context, tx *sql.Tx, ch Change) error {
	var err error
	switch ch.Op {
	case OpPutSync:
		r := ch.Sync
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sync_records (source_platform, source_id, dest_platform, dest_id, synced_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(source_platform, source_id) DO NOTHING`,
			string(r.SourcePlatform), r.SourceID, string(r.DestPlatform), r.DestID, formatTime(r.SyncedAt))
	case OpPutFavorite:
		f := ch.Favorite
		_, err = tx.ExecContext(ctx,
			`INSERT INTO favorites (platform, favorite_id, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(platform, favorite_id) DO NOTHING`,
			string(f.Platform), f.FavoriteID, formatTime(f.CreatedAt))
	case OpDeleteFavorite:
		f := ch.Favorite
		_, err = tx.ExecContext(ctx,
			`DELETE FROM favorites WHERE platform = ? AND favorite_id = ?`,
			string(f.Platform), f.FavoriteID)
	case OpPutWatermark:
		w := ch.Watermark
		_, err = tx.ExecContext(ctx,
			`INSERT INTO watermarks (platform, direction, created_at, id) VALUES (?, ?, ?, ?)
			 ON CONFLICT(platform, direction) DO UPDATE SET created_at = excluded.created_at, id = excluded.id`,
			string(w.Platform), string(w.Direction), formatTime(w.CreatedAt), w.ID)
	default:
		err = fmt.Errorf("unknown change %q", ch.Op)
	}
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = s.db.Close()
		s.db = nil
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
