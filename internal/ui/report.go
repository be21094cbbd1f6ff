package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/klauern/postsync/internal/backup"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/sync"
)

// Format selects how reports are written.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the supported output formats.
func Formats() []Format {
	return []Format{FormatTable, FormatJSON, FormatYAML}
}

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: table, json, yaml)", s)
	}
}

// Encode writes v as JSON or YAML.
func Encode(w io.Writer, v any, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q cannot encode values", f)
	}
}

// ReportOptions controls table rendering.
type ReportOptions struct {
	Format Format
	// Verbose lists every item, not only failures.
	Verbose bool
}

// WriteRun writes the outcome of a run.
func WriteRun(w io.Writer, rep *sync.RunReport, opts ReportOptions) error {
	if opts.Format != FormatTable && opts.Format != "" {
		return Encode(w, rep, opts.Format)
	}

	var b strings.Builder
	if rep.RunID != "" {
		b.WriteString(Dim("run " + rep.RunID))
		b.WriteString("\n")
	}
	if len(rep.Syncs) > 0 {
		b.WriteString(syncTable(w, rep.Syncs))
		b.WriteString("\n")
		for _, s := range rep.Syncs {
			writeItems(&b, s.Direction.String(), s.Items, opts.Verbose)
		}
	}
	if len(rep.Sweeps) > 0 {
		b.WriteString(sweepTable(w, rep.Sweeps))
		b.WriteString("\n")
		for _, s := range rep.Sweeps {
			writeItems(&b, s.Platform.String()+" "+string(s.Kind), s.Items, opts.Verbose)
		}
	}
	if len(rep.Syncs) == 0 && len(rep.Sweeps) == 0 {
		b.WriteString(StatusSkipped("nothing to do"))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func newTable(w io.Writer, headers ...string) *table.Table {
	re := lipgloss.NewRenderer(w)
	header := re.NewStyle().Bold(true).Padding(0, 1)
	cell := re.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(re.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

func syncTable(w io.Writer, reps []*sync.Report) string {
	t := newTable(w, "Direction", "Mirrored", "Skipped", "Failed", "Status")
	for _, r := range reps {
		mirrored := strconv.Itoa(r.Mirrored)
		if r.DryRun {
			mirrored = strconv.Itoa(r.Planned) + " planned"
		}
		if r.Seeded > 0 {
			mirrored += fmt.Sprintf(" (+%d seeded)", r.Seeded)
		}
		t.Row(
			directionLabel(r.Direction),
			mirrored,
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			outcome(r.Err, r.Failed, ""),
		)
	}
	return t.Render()
}

func sweepTable(w io.Writer, reps []*sync.SweepReport) string {
	t := newTable(w, "Sweep", "Older than", "Scanned", "Deleted", "Failed", "Status")
	for _, r := range reps {
		deleted := strconv.Itoa(r.Deleted)
		if r.DryRun {
			deleted = strconv.Itoa(r.Planned) + " planned"
		}
		t.Row(
			r.Platform.String()+" "+string(r.Kind),
			days(r.Threshold),
			strconv.Itoa(r.Scanned),
			deleted,
			strconv.Itoa(r.Failed),
			outcome(r.Err, r.Failed, r.Stopped),
		)
	}
	return t.Render()
}

func directionLabel(d model.Direction) string {
	return d.Source().String() + " → " + d.Dest().String()
}

func days(d time.Duration) string {
	n := int(d.Hours() / 24)
	if n == 1 {
		return "1 day"
	}
	return strconv.Itoa(n) + " days"
}

func outcome(err error, failed int, stopped string) string {
	switch {
	case err != nil:
		return "aborted"
	case stopped != "":
		return "stopped: " + stopped
	case failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

func writeItems(b *strings.Builder, title string, items []sync.ItemResult, verbose bool) {
	var lines []string
	for _, it := range items {
		if !verbose && it.Action != sync.ActionFailed {
			continue
		}
		lines = append(lines, "  "+ItemLine(it))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString(Header(title))
	b.WriteString("\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
}

// ItemLine renders one item with a status symbol.
func ItemLine(it sync.ItemResult) string {
	label := it.ID
	switch it.Action {
	case sync.ActionMirrored:
		if it.DestID != "" {
			label += " → " + it.DestID
		}
		if it.Message != "" {
			label += Dim(" (" + it.Message + ")")
		}
		return StatusSuccess(label)
	case sync.ActionDeleted:
		if it.Message != "" {
			label += Dim(" (" + it.Message + ")")
		}
		return StatusSuccess("deleted " + label)
	case sync.ActionPlanned:
		return StatusPending("would handle " + label)
	case sync.ActionSeeded:
		return StatusSkipped(label + " marked synced")
	case sync.ActionSkipped:
		return StatusSkipped(label + Dim(" ("+it.Message+")"))
	default:
		return StatusError(label + ": " + it.Message)
	}
}

// WriteStatus writes cache statistics and watermarks.
func WriteStatus(w io.Writer, st cache.Stats, f Format, now time.Time) error {
	if f != FormatTable && f != "" {
		return Encode(w, st, f)
	}
	var b strings.Builder
	b.WriteString(Header("Sync cache"))
	b.WriteString(" ")
	b.WriteString(Dim(st.Location))
	b.WriteString("\n")

	t := newTable(w, "Platform", "Synced", "Favorites tracked")
	for _, p := range model.AllPlatforms() {
		t.Row(p.String(), strconv.Itoa(st.Synced[p]), strconv.Itoa(st.Favorites[p]))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d mirrored, %d marked synced without publishing\n", st.Published, st.Seeded)

	if len(st.Watermarks) == 0 {
		b.WriteString(StatusSkipped("no watermarks yet"))
		b.WriteString("\n")
	} else {
		wt := newTable(w, "Direction", "Newest processed", "Post")
		for _, wm := range st.Watermarks {
			wt.Row(directionLabel(wm.Direction), humanize.RelTime(wm.CreatedAt, now, "ago", "from now"), wm.ID)
		}
		b.WriteString(wt.Render())
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteBackups lists state backups, newest first.
func WriteBackups(w io.Writer, backups []backup.Metadata, f Format, now time.Time) error {
	if f != FormatTable && f != "" {
		if backups == nil {
			backups = []backup.Metadata{}
		}
		return Encode(w, backups, f)
	}
	if len(backups) == 0 {
		_, err := io.WriteString(w, StatusSkipped("no backups yet")+"\n")
		return err
	}
	t := newTable(w, "ID", "File", "Taken", "Size", "Reason")
	for _, b := range backups {
		t.Row(b.ID, filepath.Base(b.SourcePath), humanize.RelTime(b.CreatedAt, now, "ago", "from now"),
			humanize.Bytes(uint64(max(b.Size, 0))), b.Reason)
	}
	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}
