package model

import (
	"strings"
	"time"
)

// Visibility is the audience of a post.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaImage   MediaKind = "image"
	MediaVideo   MediaKind = "video"
	MediaGIFV    MediaKind = "gifv"
	MediaUnknown MediaKind = "unknown"
)

// MediaKindFromMIME maps a MIME type to a MediaKind.
func MediaKindFromMIME(mime string) MediaKind {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage
	case strings.HasPrefix(mime, "video/"), mime == "application/x-mpegurl", mime == "application/vnd.apple.mpegurl":
		return MediaVideo
	default:
		return MediaUnknown
	}
}

// Media is one attachment of a post. Either URL or Data is set; adapters fill
// Data when the media is downloaded ahead of publishing.
type Media struct {
	URL      string    `json:"url,omitempty"`
	Data     []byte    `json:"-"`
	MIMEType string    `json:"mime_type,omitempty"`
	AltText  string    `json:"alt_text,omitempty"`
	Kind     MediaKind `json:"kind"`
}

// Loaded reports whether the media bytes are available.
func (m Media) Loaded() bool {
	return len(m.Data) > 0
}

// IsStream reports whether the media is an HLS playlist rather than a file.
// Streams cannot be downloaded as-is and must go through a transcoder.
func (m Media) IsStream() bool {
	switch strings.ToLower(m.MIMEType) {
	case "application/x-mpegurl", "application/vnd.apple.mpegurl":
		return true
	default:
		return strings.HasSuffix(strings.ToLower(m.URL), ".m3u8")
	}
}

// UnifiedPost is the platform-agnostic view of a post.
// ID is stable and never reused by the origin platform.
type UnifiedPost struct {
	Platform       Platform   `json:"platform"`
	ID             string     `json:"id"`
	URL            string     `json:"url,omitempty"`
	AuthorHandle   string     `json:"author_handle"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	IsRepost       bool       `json:"is_repost,omitempty"`
	RepostOfAuthor string     `json:"repost_of_author,omitempty"`
	IsReply        bool       `json:"is_reply,omitempty"`
	Media          []Media    `json:"media,omitempty"`
	Visibility     Visibility `json:"visibility"`
	Tags           []string   `json:"tags,omitempty"`
	// EmbedURL asks the destination to attach a link card for this URL.
	EmbedURL string `json:"embed_url,omitempty"`
}

// IsPublic reports whether the post may be mirrored.
func (p UnifiedPost) IsPublic() bool {
	return p.Visibility == "" || p.Visibility == VisibilityPublic
}

// Key returns the cache key for the post.
func (p UnifiedPost) Key() SourceKey {
	return SourceKey{Platform: p.Platform, ID: p.ID}
}

// CompareCreated orders posts oldest first, breaking ties by ID. It is meant
// for slices.SortFunc.
func CompareCreated(x, y UnifiedPost) int {
	if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(x.ID, y.ID)
}

// Favorite is a like or favourite made by the authenticated account.
// ID is whatever the adapter needs to undo it (status id or like record URI).
type Favorite struct {
	Platform  Platform  `json:"platform"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnPost is an entry of the account's own history as seen by the retention
// sweeper. Reposts are included so they can be undone.
type OwnPost struct {
	Platform  Platform  `json:"platform"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	IsRepost  bool      `json:"is_repost,omitempty"`
}
