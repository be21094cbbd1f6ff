// Package apperr defines the error taxonomy shared by postsync components.
//
// Every error carries a Kind that tells the engine how far a failure reaches:
// config and corrupt-state errors stop the process, auth errors stop one
// direction, and the remaining kinds only affect a single item.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind categorizes an error.
type Kind string

const (
	KindConfig           Kind = "config"
	KindAuth             Kind = "auth"
	KindTransientNetwork Kind = "transient_network"
	KindUnsupportedMedia Kind = "unsupported_media"
	KindCorruptState     Kind = "corrupt_state"
	KindNotFound         Kind = "not_found"
	KindRateLimited      Kind = "rate_limited"
	KindRemote           Kind = "remote"
)

// Error is a categorized error with optional context about where it happened.
type Error struct {
	Kind     Kind
	Op       string
	Platform string
	ID       string
	Message  string
	Err      error
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Platform != "" {
		sb.WriteString(e.Platform)
		if e.ID != "" {
			sb.WriteString(" ")
			sb.WriteString(e.ID)
		}
		sb.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	sb.WriteString(msg)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels usable with errors.Is.
var (
	ErrConfig           = &Error{Kind: KindConfig}
	ErrAuth             = &Error{Kind: KindAuth}
	ErrTransientNetwork = &Error{Kind: KindTransientNetwork}
	ErrUnsupportedMedia = &Error{Kind: KindUnsupportedMedia}
	ErrCorruptState     = &Error{Kind: KindCorruptState}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
)

// New builds an Error of the given kind.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Config reports an unreadable, invalid or incomplete configuration.
func Config(message string, err error) *Error {
	return New(KindConfig, "config", message, err)
}

// Auth reports rejected or expired credentials for a platform.
func Auth(platform, message string, err error) *Error {
	e := New(KindAuth, "auth", message, err)
	e.Platform = platform
	return e
}

// Transient reports a network failure worth retrying.
func Transient(op string, err error) *Error {
	return New(KindTransientNetwork, op, "", err)
}

// UnsupportedMedia reports a media kind the destination cannot take.
func UnsupportedMedia(platform, message string) *Error {
	e := New(KindUnsupportedMedia, "transform", message, nil)
	e.Platform = platform
	return e
}

// CorruptState reports a persisted store that exists but cannot be parsed.
func CorruptState(path string, err error) *Error {
	return New(KindCorruptState, "load state", path, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether err must stop the whole process.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindCorruptState:
		return true
	default:
		return false
	}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// FromStatus maps an HTTP response status to an Error. A 2xx status returns nil.
func FromStatus(platform, op string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("API error (status %d): %s", status, truncate(body, 256))
	var kind Kind
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusNotFound, status == http.StatusGone:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		kind = KindTransientNetwork
	default:
		kind = KindRemote
	}
	e := New(kind, op, msg, nil)
	e.Platform = platform
	return e
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
