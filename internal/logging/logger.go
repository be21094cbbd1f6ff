// Package logging provides structured logging for postsync using slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level aliases for convenience.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultLogger *slog.Logger
	defaultOnce   sync.Once
	defaultMu     sync.RWMutex
)

// Options configures the logger behavior.
type Options struct {
	// Level sets the minimum log level. Defaults to LevelInfo.
	Level slog.Level
	// Output sets the output destination. Defaults to os.Stderr.
	Output io.Writer
	// JSON enables JSON output format. Defaults to false (text format).
	JSON bool
	// AddSource includes source file and line in log output.
	AddSource bool
	// File, when set, also writes JSON logs to a size-rotated file.
	File string
	// MaxSizeMB is the rotation size for File. Defaults to 10.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. Defaults to 3.
	MaxBackups int
}

// DefaultOptions returns options suitable for CLI usage.
func DefaultOptions() Options {
	return Options{
		Level:      LevelWarn,
		Output:     os.Stderr,
		JSON:       false,
		AddSource:  false,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// New creates a new logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	if opts.File != "" {
		fileHandler := slog.NewJSONHandler(rotatingFile(opts), &slog.HandlerOptions{
			// The file keeps everything down to info so cron runs leave a trail.
			Level:     min(opts.Level, LevelInfo),
			AddSource: opts.AddSource,
		})
		handler = fanout{handler, fileHandler}
	}

	return slog.New(handler)
}

func rotatingFile(opts Options) io.Writer {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxBackups: backups,
		Compress:   true,
	}
}

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Default returns the default logger, creating it if necessary.
// The default logger writes text output to stderr at Warn level.
func Default() *slog.Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defaultLogger = New(DefaultOptions())
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger and also sets it as slog's default.
// This also ensures the sync.Once is triggered so Default() won't override the logger.
func SetDefault(logger *slog.Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	slog.SetDefault(logger)
}

// With returns a logger that includes the given attributes in every output.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}

// WithContext returns the logger stored in ctx, or the default logger.
func WithContext(ctx context.Context) *slog.Logger {
	if l := FromContext(ctx); l != nil {
		return l
	}
	return Default()
}

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Timer logs the duration of an operation at debug level when the returned
// function is called. Typical use is defer logging.Timer("sync")().
func Timer(op string) func() {
	start := time.Now()
	return func() {
		Default().Debug("operation finished",
			Operation(op),
			slog.Duration(KeyDuration, time.Since(start)),
		)
	}
}

// Context key for logger storage.
type loggerKey struct{}

// NewContext returns a context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger from context, or nil if not present.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return nil
}

// Common attribute keys for consistent logging across the codebase.
const (
	// KeyPlatform identifies the social platform (mastodon, bluesky).
	KeyPlatform = "platform"
	// KeyDirection identifies the sync direction.
	KeyDirection = "direction"
	// KeySourceID identifies a post on its origin platform.
	KeySourceID = "source_id"
	// KeyDestID identifies the mirrored post on the destination platform.
	KeyDestID = "dest_id"
	// KeyRunID correlates all log lines of one invocation.
	KeyRunID = "run_id"
	// KeyBackupID identifies a state backup.
	KeyBackupID = "backup_id"
	// KeyPath identifies a file path.
	KeyPath = "path"
	// KeyOperation identifies the operation being performed.
	KeyOperation = "operation"
	// KeyCount provides a count of items.
	KeyCount = "count"
	// KeyError attaches an error value.
	KeyError = "error"
	// KeyDuration records operation duration.
	KeyDuration = "duration"
)

// Platform returns a slog attribute for platform logging.
func Platform(p string) slog.Attr {
	return slog.String(KeyPlatform, p)
}

// Direction returns a slog attribute for the sync direction.
func Direction(d string) slog.Attr {
	return slog.String(KeyDirection, d)
}

// SourceID returns a slog attribute for a source post id.
func SourceID(id string) slog.Attr {
	return slog.String(KeySourceID, id)
}

// DestID returns a slog attribute for a destination post id.
func DestID(id string) slog.Attr {
	return slog.String(KeyDestID, id)
}

// RunID returns a slog attribute for the invocation id.
func RunID(id string) slog.Attr {
	return slog.String(KeyRunID, id)
}

// BackupID returns a slog attribute for a state backup id.
func BackupID(id string) slog.Attr {
	return slog.String(KeyBackupID, id)
}

// Path returns a slog attribute for file path logging.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Operation returns a slog attribute for operation logging.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Err returns a slog attribute for error logging.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any(KeyError, err)
}

// Count returns a slog attribute for item counts.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}
