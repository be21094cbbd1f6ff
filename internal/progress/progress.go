// Package progress shows progress of long-running sweeps on a terminal and
// falls back to debug log lines everywhere else.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/klauern/postsync/internal/logging"
)

// Bar is a progress bar that is a no-op when disabled.
type Bar struct {
	bar  *progressbar.ProgressBar
	desc string
	done int
}

// Options configures a Bar.
type Options struct {
	// Max is the number of steps. Values below 1 show a spinner.
	Max int64
	// Description is shown before the bar.
	Description string
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Enabled forces the bar off when false. The bar is still hidden when
	// the writer is not a terminal.
	Enabled bool
}

// New creates a progress bar. It is shown only if enabled, colors are on,
// the writer is a terminal and the logger is not at debug level.
func New(opts Options) *Bar {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	b := &Bar{desc: opts.Description}
	if !opts.Enabled || !shouldShow(opts.Writer) {
		logging.Debug(opts.Description+" started", logging.Count(int(opts.Max)))
		return b
	}

	max := opts.Max
	if max < 1 {
		max = -1
	}
	b.bar = progressbar.NewOptions64(
		max,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(opts.Writer, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(!color.NoColor),
	)
	return b
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b.bar != nil
}

// Add advances the bar by n steps.
func (b *Bar) Add(n int) {
	b.done += n
	if b.bar != nil {
		_ = b.bar.Add(n)
	}
}

// Describe updates the description.
func (b *Bar) Describe(desc string) {
	b.desc = desc
	if b.bar != nil {
		b.bar.Describe(desc)
	}
}

// Finish completes the bar.
func (b *Bar) Finish() {
	if b.bar == nil {
		logging.Debug(b.desc+" completed", logging.Count(b.done))
		return
	}
	_ = b.bar.Finish()
}

func shouldShow(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	// Bars and debug logs share stderr.
	return !logging.Default().Enabled(context.Background(), logging.LevelDebug)
}
