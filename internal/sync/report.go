package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/model"
)

// Action represents what happened to one item during a run.
type Action string

const (
	// ActionMirrored indicates the post was published on the destination.
	ActionMirrored Action = "mirrored"

	// ActionPlanned indicates a dry run would have published the post.
	ActionPlanned Action = "planned"

	// ActionSeeded indicates the post was marked synced without publishing.
	ActionSeeded Action = "seeded"

	// ActionSkipped indicates the post was filtered out.
	ActionSkipped Action = "skipped"

	// ActionFailed indicates an error occurred processing the item.
	ActionFailed Action = "failed"

	// ActionDeleted indicates the sweeper removed the item.
	ActionDeleted Action = "deleted"
)

// ItemResult represents the outcome of one post or favorite.
type ItemResult struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Action    Action    `json:"action" yaml:"action"`

	// DestID is the id of the mirrored post, if one was published.
	DestID string `json:"dest_id,omitempty" yaml:"dest_id,omitempty"`

	// Message is the skip reason or error text.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	Err error `json:"-" yaml:"-"`
}

// Success returns true unless the item failed.
func (ir ItemResult) Success() bool {
	return ir.Action != ActionFailed
}

type items []ItemResult

func (it items) count(action Action) int {
	n := 0
	for _, r := range it {
		if r.Action == action {
			n++
		}
	}
	return n
}

func (it items) filter(action Action) []ItemResult {
	var out []ItemResult
	for _, r := range it {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// Report contains the outcome of syncing one direction.
type Report struct {
	Direction model.Direction `json:"direction" yaml:"direction"`
	DryRun    bool            `json:"dry_run" yaml:"dry_run"`

	Mirrored int `json:"mirrored" yaml:"mirrored"`
	Planned  int `json:"planned,omitempty" yaml:"planned,omitempty"`
	Seeded   int `json:"seeded,omitempty" yaml:"seeded,omitempty"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Failed   int `json:"failed" yaml:"failed"`

	Items []ItemResult `json:"items,omitempty" yaml:"items,omitempty"`

	// Err is set when the direction was aborted, for example by an auth error.
	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReport(dir model.Direction, dryRun bool) *Report {
	return &Report{Direction: dir, DryRun: dryRun}
}

func (r *Report) add(ir ItemResult) {
	if ir.Err != nil && ir.Message == "" {
		ir.Message = ir.Err.Error()
	}
	switch ir.Action {
	case ActionMirrored:
		r.Mirrored++
	case ActionPlanned:
		r.Planned++
	case ActionSeeded:
		r.Seeded++
	case ActionSkipped:
		r.Skipped++
	case ActionFailed:
		r.Failed++
	}
	r.Items = append(r.Items, ir)
}

func (r *Report) abort(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Filter returns the items with the given action.
func (r *Report) Filter(action Action) []ItemResult {
	return items(r.Items).filter(action)
}

// Success returns true if the direction completed and no item failed.
func (r *Report) Success() bool {
	return r.Err == nil && r.Failed == 0
}

// Summary returns a human-readable summary of the report.
func (r *Report) Summary() string {
	var sb strings.Builder

	if r.DryRun {
		sb.WriteString("Dry run - no changes made\n")
	}
	sb.WriteString(fmt.Sprintf("Synced %s -> %s\n", r.Direction.Source(), r.Direction.Dest()))
	if r.DryRun {
		sb.WriteString(fmt.Sprintf("  Planned:  %d\n", r.Planned))
	} else {
		sb.WriteString(fmt.Sprintf("  Mirrored: %d\n", r.Mirrored))
	}
	if r.Seeded > 0 {
		sb.WriteString(fmt.Sprintf("  Seeded:   %d\n", r.Seeded))
	}
	sb.WriteString(fmt.Sprintf("  Skipped:  %d\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("  Failed:   %d\n", r.Failed))

	if r.Failed > 0 {
		sb.WriteString("\nErrors:\n")
		for _, f := range r.Filter(ActionFailed) {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.ID, f.Message))
		}
	}
	if r.Err != nil {
		sb.WriteString(fmt.Sprintf("\nAborted: %v\n", r.Err))
	}
	return sb.String()
}

// SweepKind selects what a retention sweep deletes.
type SweepKind string

const (
	SweepPosts     SweepKind = "posts"
	SweepFavorites SweepKind = "favorites"
)

// ParseSweepKind converts user input into a SweepKind.
func ParseSweepKind(s string) (SweepKind, error) {
	switch k := SweepKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SweepPosts, SweepFavorites:
		return k, nil
	case "favs", "likes":
		return SweepFavorites, nil
	default:
		return "", fmt.Errorf("unknown sweep kind %q (valid: %s, %s)", s, SweepPosts, SweepFavorites)
	}
}

// SweepReport contains the outcome of one retention sweep.
type SweepReport struct {
	Platform  model.Platform `json:"platform" yaml:"platform"`
	Kind      SweepKind      `json:"kind" yaml:"kind"`
	Threshold time.Duration  `json:"threshold" yaml:"threshold"`
	DryRun    bool           `json:"dry_run" yaml:"dry_run"`

	Scanned int `json:"scanned" yaml:"scanned"`
	Tracked int `json:"tracked,omitempty" yaml:"tracked,omitempty"`
	Deleted int `json:"deleted" yaml:"deleted"`
	Planned int `json:"planned,omitempty" yaml:"planned,omitempty"`
	Failed  int `json:"failed" yaml:"failed"`

	Items []ItemResult `json:"items,omitempty" yaml:"items,omitempty"`

	// Stopped explains why the sweep ended early.
	Stopped string `json:"stopped,omitempty" yaml:"stopped,omitempty"`

	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *SweepReport) add(ir ItemResult) {
	if ir.Err != nil && ir.Message == "" {
		ir.Message = ir.Err.Error()
	}
	switch ir.Action {
	case ActionDeleted:
		r.Deleted++
	case ActionPlanned:
		r.Planned++
	case ActionFailed:
		r.Failed++
	}
	r.Items = append(r.Items, ir)
}

func (r *SweepReport) abort(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Summary returns a human-readable summary of the sweep.
func (r *SweepReport) Summary() string {
	var sb strings.Builder
	if r.DryRun {
		sb.WriteString("Dry run - nothing deleted\n")
	}
	sb.WriteString(fmt.Sprintf("Swept %s %s older than %s\n", r.Platform, r.Kind, r.Threshold))
	sb.WriteString(fmt.Sprintf("  Scanned: %d\n", r.Scanned))
	if r.DryRun {
		sb.WriteString(fmt.Sprintf("  Planned: %d\n", r.Planned))
	} else {
		sb.WriteString(fmt.Sprintf("  Deleted: %d\n", r.Deleted))
	}
	sb.WriteString(fmt.Sprintf("  Failed:  %d\n", r.Failed))
	if r.Stopped != "" {
		sb.WriteString(fmt.Sprintf("  Stopped: %s\n", r.Stopped))
	}
	return sb.String()
}

// RunReport collects the reports of one full run.
type RunReport struct {
	RunID  string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Syncs  []*Report      `json:"syncs,omitempty" yaml:"syncs,omitempty"`
	Sweeps []*SweepReport `json:"sweeps,omitempty" yaml:"sweeps,omitempty"`
}

// Err returns the errors that should make the process exit non-zero:
// auth failures, fatal state errors and cancellation. Per-item failures
// and transient fetch errors are reported but do not count.
func (r *RunReport) Err() error {
	var errs []error
	collect := func(err error) {
		if err == nil {
			return
		}
		if apperr.IsKind(err, apperr.KindAuth) || apperr.Fatal(err) || isCanceled(err) {
			errs = append(errs, err)
		}
	}
	for _, s := range r.Syncs {
		collect(s.Err)
	}
	for _, s := range r.Sweeps {
		collect(s.Err)
	}
	return errors.Join(errs...)
}
