package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
)

// pollInterval is how often an asynchronously processed upload is checked.
var pollInterval = time.Second

const maxPolls = 120

// upload sends one attachment and waits until the server has processed it.
func (a *Adapter) upload(ctx context.Context, m model.Media) (string, error) {
	if !m.Loaded() {
		return "", fmt.Errorf("upload media: %s was not downloaded", m.URL)
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName(m)+`"`)
		h.Set("Content-Type", m.MIMEType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(m.Data); err != nil {
			return nil, err
		}
		if m.AltText != "" {
			if err := w.WriteField("description", m.AltText); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/api/v2/media", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var media mediaResponse
	if _, err := a.api.DoJSON(ctx, "upload media", build, &media); err != nil {
		return "", err
	}
	if media.URL != nil {
		return media.ID, nil
	}
	return a.waitProcessed(ctx, media.ID)
}

// waitProcessed polls an upload until its URL is set.
func (a *Adapter) waitProcessed(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range maxPolls {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		var media mediaResponse
		if _, err := a.api.DoJSON(ctx, "get media",
			platform.JSONRequest(http.MethodGet, a.base+"/api/v1/media/"+url.PathEscape(id), nil, nil), &media); err != nil {
			return "", err
		}
		if media.URL != nil {
			return media.ID, nil
		}
	}
	return "", apperr.Transient("upload media", fmt.Errorf("media %s still processing after %d checks", id, maxPolls))
}

func fileName(m model.Media) string {
	switch m.MIMEType {
	case "image/jpeg":
		return "image.jpg"
	case "image/png":
		return "image.png"
	case "image/gif":
		return "image.gif"
	case "image/webp":
		return "image.webp"
	case "video/mp4":
		return "video.mp4"
	case "video/webm":
		return "video.webm"
	case "video/quicktime":
		return "video.mov"
	default:
		return "media"
	}
}
