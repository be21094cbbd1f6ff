package backup

import (
	"fmt"
	"time"
)

// CleanupOptions configures Prune.
type CleanupOptions struct {
	// MaxBackups limits the backups kept per source file (0 = unlimited).
	MaxBackups int
	// MaxAge is the maximum age of backups to keep (0 = unlimited).
	MaxAge time.Duration
	// KeepAtLeastOne keeps the newest backup of every source file.
	KeepAtLeastOne bool
	// DryRun reports what would be deleted without deleting.
	DryRun bool
}

// DefaultCleanupOptions keeps the last five backups of each file for 30 days.
func DefaultCleanupOptions() CleanupOptions {
	return CleanupOptions{
		MaxBackups:     5,
		MaxAge:         30 * 24 * time.Hour,
		KeepAtLeastOne: true,
	}
}

// Prune removes old backups and returns the ids it removed.
func (m *Manager) Prune(opts CleanupOptions) ([]string, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]Metadata)
	for _, b := range idx.sorted() {
		groups[b.SourcePath] = append(groups[b.SourcePath], b)
	}

	now := m.now()
	var doomed []string
	for _, group := range groups {
		var drop []string
		for i, b := range group {
			tooOld := opts.MaxAge > 0 && now.Sub(b.CreatedAt) > opts.MaxAge
			tooMany := opts.MaxBackups > 0 && i >= opts.MaxBackups
			if tooOld || tooMany {
				drop = append(drop, b.ID)
			}
		}
		if opts.KeepAtLeastOne && len(drop) == len(group) && len(drop) > 0 {
			drop = drop[1:]
		}
		doomed = append(doomed, drop...)
	}

	if opts.DryRun {
		return doomed, nil
	}
	var deleted []string
	for _, id := range doomed {
		if err := m.Delete(id); err != nil {
			return deleted, fmt.Errorf("prune backup %s: %w", id, err)
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// Stats summarizes a backup directory.
type Stats struct {
	TotalBackups int
	TotalSize    int64
	Oldest       time.Time
	Newest       time.Time
}

// Stats returns statistics about the backups.
func (m *Manager) Stats() (Stats, error) {
	all, err := m.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalBackups: len(all)}
	for _, b := range all {
		st.TotalSize += b.Size
	}
	if len(all) > 0 {
		st.Newest = all[0].CreatedAt
		st.Oldest = all[len(all)-1].CreatedAt
	}
	return st, nil
}
