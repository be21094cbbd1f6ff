package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
)

const mimeMP4 = "video/mp4"

// Transcoder turns a video attachment into an MP4 file.
type Transcoder interface {
	Transcode(ctx context.Context, m model.Media) ([]byte, error)
}

// FFmpeg transcodes by running the ffmpeg executable. Streams are read from
// their URL; downloaded media is written to a temporary file first. Audio
// and video are copied without re-encoding.
type FFmpeg struct {
	Path string
}

// NewFFmpeg returns a transcoder running the ffmpeg binary at path, or the
// one on PATH when path is empty.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// Transcode implements Transcoder.
func (f *FFmpeg) Transcode(ctx context.Context, m model.Media) ([]byte, error) {
	dir, err := os.MkdirTemp("", "postsync-video-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := m.URL
	if m.Loaded() {
		input = filepath.Join(dir, "input")
		if err := os.WriteFile(input, m.Data, 0o600); err != nil {
			return nil, fmt.Errorf("write video: %w", err)
		}
	}
	if input == "" {
		return nil, errors.New("video has neither data nor url")
	}
	out := filepath.Join(dir, "video.mp4")

	defer logging.Timer("ffmpeg")()
	// #nosec G204 - binary comes from configuration, arguments are fixed
	cmd := exec.CommandContext(ctx, f.Path,
		"-nostdin", "-loglevel", "error",
		"-i", input,
		"-acodec", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-vcodec", "copy",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed for %s: %w: %s", m.URL, err, bytes.TrimSpace(stderr.Bytes()))
	}

	// #nosec G304 - path is inside our own temp dir
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read transcoded video: %w", err)
	}
	return data, nil
}
