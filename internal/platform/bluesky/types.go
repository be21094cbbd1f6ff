package bluesky

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/klauern/postsync/internal/model"
)

// Lexicon ids used by the adapter.
const (
	collectionPost   = "app.bsky.feed.post"
	collectionRepost = "app.bsky.feed.repost"
	collectionLike   = "app.bsky.feed.like"

	typeReasonRepost    = "app.bsky.feed.defs#reasonRepost"
	typeImagesView      = "app.bsky.embed.images#view"
	typeVideoView       = "app.bsky.embed.video#view"
	typeRecordView      = "app.bsky.embed.record#view"
	typeRecordMediaView = "app.bsky.embed.recordWithMedia#view"
	typeExternal        = "app.bsky.embed.external"
	typeImages          = "app.bsky.embed.images"
	typeFacetLink       = "app.bsky.richtext.facet#link"
	typeFacetTag        = "app.bsky.richtext.facet#tag"

	// QuoteMarker introduces the text of a quoted post.
	QuoteMarker = "💬"
)

type profile struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
}

type facet struct {
	Index    byteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

type external struct {
	URI         string          `json:"uri"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Thumb       json.RawMessage `json:"thumb,omitempty"`
}

type recordEmbed struct {
	Type     string    `json:"$type"`
	External *external `json:"external,omitempty"`
}

type postRecord struct {
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"createdAt"`
	Facets    []facet         `json:"facets,omitempty"`
	Embed     *recordEmbed    `json:"embed,omitempty"`
	Reply     json.RawMessage `json:"reply,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
}

type imageView struct {
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

type embedRecord struct {
	Type   string       `json:"$type"`
	URI    string       `json:"uri"`
	Author profile      `json:"author"`
	Value  *postRecord  `json:"value"`
	Record *embedRecord `json:"record"`
}

type embedView struct {
	Type     string       `json:"$type"`
	Images   []imageView  `json:"images,omitempty"`
	Playlist string       `json:"playlist,omitempty"`
	Alt      string       `json:"alt,omitempty"`
	External *external    `json:"external,omitempty"`
	Record   *embedRecord `json:"record,omitempty"`
	Media    *embedView   `json:"media,omitempty"`
}

type postView struct {
	URI    string     `json:"uri"`
	Author profile    `json:"author"`
	Record postRecord `json:"record"`
	Embed  *embedView `json:"embed,omitempty"`
}

type reason struct {
	Type      string    `json:"$type"`
	URI       string    `json:"uri"`
	IndexedAt time.Time `json:"indexedAt"`
}

type feedItem struct {
	Post   postView        `json:"post"`
	Reply  json.RawMessage `json:"reply,omitempty"`
	Reason *reason         `json:"reason,omitempty"`
}

type authorFeed struct {
	Cursor string     `json:"cursor"`
	Feed   []feedItem `json:"feed"`
}

type listedRecord struct {
	URI   string `json:"uri"`
	Value struct {
		CreatedAt time.Time `json:"createdAt"`
	} `json:"value"`
}

type recordList struct {
	Cursor  string         `json:"cursor"`
	Records []listedRecord `json:"records"`
}

// atURI is a parsed at://repo/collection/rkey reference.
type atURI struct {
	Repo       string
	Collection string
	RKey       string
}

func parseATURI(s string) (atURI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return atURI{}, fmt.Errorf("invalid at-uri %q", s)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return atURI{}, fmt.Errorf("invalid at-uri %q", s)
	}
	return atURI{Repo: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// postURL returns the web address of a post.
func postURL(handle, uri string) string {
	u, err := parseATURI(uri)
	if err != nil {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + u.RKey
}

// expandLinks replaces the display text of link facets with their full
// URI and appends a link card URI that does not appear in the text.
func expandLinks(rec postRecord) string {
	text := rec.Text
	facets := append([]facet(nil), rec.Facets...)
	sort.Slice(facets, func(i, j int) bool { return facets[i].Index.ByteStart > facets[j].Index.ByteStart })
	for _, f := range facets {
		start, end := f.Index.ByteStart, f.Index.ByteEnd
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		for _, feat := range f.Features {
			if feat.Type == typeFacetLink && feat.URI != "" {
				text = text[:start] + feat.URI + text[end:]
				break
			}
		}
	}
	if rec.Embed != nil && rec.Embed.Type == typeExternal && rec.Embed.External != nil {
		if uri := rec.Embed.External.URI; uri != "" && !strings.Contains(text, uri) {
			text = strings.TrimSpace(text + "\n\n" + uri)
		}
	}
	return text
}

func recordTags(rec postRecord) []string {
	var tags []string
	for _, f := range rec.Facets {
		for _, feat := range f.Features {
			if feat.Type == typeFacetTag && feat.Tag != "" {
				tags = append(tags, feat.Tag)
			}
		}
	}
	return append(tags, rec.Tags...)
}

// quoted returns the post embedded by a quote, if it is visible.
func (e *embedView) quoted() *embedRecord {
	if e == nil || e.Record == nil {
		return nil
	}
	r := e.Record
	if r.Value == nil && r.Record != nil {
		r = r.Record
	}
	if r.Value == nil {
		return nil
	}
	return r
}

func (e *embedView) media() []model.Media {
	if e == nil {
		return nil
	}
	switch e.Type {
	case typeImagesView:
		out := make([]model.Media, 0, len(e.Images))
		for _, img := range e.Images {
			out = append(out, model.Media{URL: img.Fullsize, AltText: img.Alt, Kind: model.MediaImage})
		}
		return out
	case typeVideoView:
		return []model.Media{{
			URL:      e.Playlist,
			AltText:  e.Alt,
			MIMEType: "application/x-mpegurl",
			Kind:     model.MediaVideo,
		}}
	case typeRecordMediaView:
		return e.Media.media()
	default:
		return nil
	}
}

// toUnified converts a feed entry of the account's own feed.
func (item feedItem) toUnified(self string) model.UnifiedPost {
	p := item.Post
	text := expandLinks(p.Record)
	if q := p.Embed.quoted(); q != nil {
		text = strings.TrimSpace(text + "\n\n" + QuoteMarker + " " + q.Author.Handle + ": " + expandLinks(*q.Value))
	}

	post := model.UnifiedPost{
		Platform:     model.Bluesky,
		ID:           p.URI,
		URL:          postURL(p.Author.Handle, p.URI),
		AuthorHandle: self,
		Text:         text,
		CreatedAt:    p.Record.CreatedAt.UTC(),
		IsReply:      len(p.Record.Reply) > 0 || len(item.Reply) > 0,
		Media:        p.Embed.media(),
		Visibility:   model.VisibilityPublic,
		Tags:         recordTags(p.Record),
	}
	if item.Reason != nil && item.Reason.Type == typeReasonRepost {
		post.IsRepost = true
		post.RepostOfAuthor = p.Author.Handle
		post.ID = item.Reason.URI
		if post.ID == "" {
			post.ID = "repost:" + p.URI
		}
		if !item.Reason.IndexedAt.IsZero() {
			post.CreatedAt = item.Reason.IndexedAt.UTC()
		}
	}
	return post
}
