// Package export writes the sync history recorded in the cache as JSON,
// YAML or Markdown.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
)

// Format represents the output format of an export.
type Format string

const (
	// FormatJSON exports records as JSON.
	FormatJSON Format = "json"
	// FormatYAML exports records as YAML.
	FormatYAML Format = "yaml"
	// FormatMarkdown exports records as a Markdown table.
	FormatMarkdown Format = "markdown"
)

// IsValid returns true if the format is recognized.
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatYAML, FormatMarkdown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// AllFormats returns all supported export formats.
func AllFormats() []Format {
	return []Format{FormatJSON, FormatYAML, FormatMarkdown}
}

// ParseFormat parses a string into a Format.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	if format == "md" {
		format = FormatMarkdown
	}
	if !format.IsValid() {
		return "", fmt.Errorf("unsupported format %q (valid: json, yaml, markdown)", s)
	}
	return format, nil
}

// Options configures export behavior.
type Options struct {
	// Format specifies the output format.
	Format Format
	// Pretty enables indentation for JSON and YAML.
	Pretty bool
	// Platform keeps only records whose source is this platform (empty means all).
	Platform model.Platform
	// Since keeps only records synced at or after this time.
	Since time.Time
	// IncludeSeeded keeps records that were marked synced without publishing.
	IncludeSeeded bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{
		Format:        FormatJSON,
		Pretty:        true,
		IncludeSeeded: true,
	}
}

// Exporter writes sync records in one format.
type Exporter struct {
	opts Options
}

// New creates a new Exporter with the given options.
func New(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

// Record is the exported form of a sync record.
type Record struct {
	Direction      model.Direction `json:"direction" yaml:"direction"`
	SourcePlatform model.Platform  `json:"source_platform" yaml:"source_platform"`
	SourceID       string          `json:"source_id" yaml:"source_id"`
	DestPlatform   model.Platform  `json:"dest_platform" yaml:"dest_platform"`
	DestID         string          `json:"dest_id,omitempty" yaml:"dest_id,omitempty"`
	Published      bool            `json:"published" yaml:"published"`
	SyncedAt       time.Time       `json:"synced_at" yaml:"synced_at"`
}

// Export writes the matching records to w, oldest first.
func (e *Exporter) Export(records []model.SyncRecord, w io.Writer) error {
	defer logging.Timer("export")()

	logging.Debug("starting export",
		slog.String("format", string(e.opts.Format)),
		logging.Count(len(records)),
		logging.Platform(string(e.opts.Platform)),
		logging.Operation("export"),
	)

	selected := e.filter(records)
	if len(selected) != len(records) {
		logging.Debug("records filtered",
			logging.Count(len(selected)),
			slog.Int("original", len(records)),
		)
	}

	var err error
	switch e.opts.Format {
	case FormatJSON:
		err = e.exportJSON(selected, w)
	case FormatYAML:
		err = e.exportYAML(selected, w)
	case FormatMarkdown:
		err = e.exportMarkdown(selected, w)
	default:
		err = fmt.Errorf("unsupported format: %s", e.opts.Format)
	}
	if err != nil {
		logging.Error("export failed",
			slog.String("format", string(e.opts.Format)),
			logging.Err(err),
		)
		return err
	}

	logging.Info("export completed", slog.String("format", string(e.opts.Format)), logging.Count(len(selected)))
	return nil
}

func (e *Exporter) filter(records []model.SyncRecord) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if e.opts.Platform != "" && r.SourcePlatform != e.opts.Platform {
			continue
		}
		if !e.opts.Since.IsZero() && r.SyncedAt.Before(e.opts.Since) {
			continue
		}
		if !e.opts.IncludeSeeded && !r.Published() {
			continue
		}
		out = append(out, Record{
			Direction:      model.DirectionFrom(r.SourcePlatform),
			SourcePlatform: r.SourcePlatform,
			SourceID:       r.SourceID,
			DestPlatform:   r.DestPlatform,
			DestID:         r.DestID,
			Published:      r.Published(),
			SyncedAt:       r.SyncedAt.UTC(),
		})
	}
	slices.SortStableFunc(out, func(a, b Record) int { return a.SyncedAt.Compare(b.SyncedAt) })
	return out
}

func (e *Exporter) exportJSON(records []Record, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(records)
}

func (e *Exporter) exportYAML(records []Record, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent(2)
	}
	if err := encoder.Encode(records); err != nil {
		_ = encoder.Close()
		return err
	}
	return encoder.Close()
}

func (e *Exporter) exportMarkdown(records []Record, w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("# Sync history\n\n")
	fmt.Fprintf(&sb, "Total: %d record(s)\n\n", len(records))
	if len(records) == 0 {
		sb.WriteString("*No records*\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString("| Synced | Direction | Source | Mirror |\n")
	sb.WriteString("|--------|-----------|--------|--------|\n")
	for _, r := range records {
		mirror := "`" + r.DestID + "`"
		if !r.Published {
			mirror = "*not published*"
		}
		fmt.Fprintf(&sb, "| %s | %s | `%s` | %s |\n",
			r.SyncedAt.Format("2006-01-02 15:04:05"), r.Direction, r.SourceID, mirror)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
