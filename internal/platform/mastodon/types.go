package mastodon

import (
	"strings"
	"time"

	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/transform"
)

type account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

type attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type tag struct {
	Name string `json:"name"`
}

type status struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	InReplyToID      *string      `json:"in_reply_to_id"`
	Visibility       string       `json:"visibility"`
	URL              string       `json:"url"`
	Content          string       `json:"content"`
	SpoilerText      string       `json:"spoiler_text"`
	Account          account      `json:"account"`
	Reblog           *status      `json:"reblog"`
	MediaAttachments []attachment `json:"media_attachments"`
	Tags             []tag        `json:"tags"`
}

type mediaResponse struct {
	ID  string  `json:"id"`
	URL *string `json:"url"`
}

type createStatus struct {
	Status     string   `json:"status"`
	MediaIDs   []string `json:"media_ids,omitempty"`
	Visibility string   `json:"visibility"`
	Language   string   `json:"language,omitempty"`
}

func mediaKind(t string) model.MediaKind {
	switch t {
	case "image":
		return model.MediaImage
	case "video":
		return model.MediaVideo
	case "gifv":
		return model.MediaGIFV
	default:
		return model.MediaUnknown
	}
}

// toUnified converts a status. Reblogs carry the reblogged content and its
// author while keeping the id and time of the reblog itself.
func (s status) toUnified(self string) model.UnifiedPost {
	content := s
	post := model.UnifiedPost{
		Platform:     model.Mastodon,
		ID:           s.ID,
		URL:          s.URL,
		AuthorHandle: self,
		CreatedAt:    s.CreatedAt.UTC(),
		IsReply:      s.InReplyToID != nil,
		Visibility:   model.Visibility(s.Visibility),
	}
	if s.Reblog != nil {
		content = *s.Reblog
		post.IsRepost = true
		post.RepostOfAuthor = s.Reblog.Account.Acct
		post.URL = s.Reblog.URL
	}

	text := transform.HTMLToText(content.Content)
	if cw := strings.TrimSpace(content.SpoilerText); cw != "" {
		text = "CW: " + cw + "\n\n" + text
	}
	post.Text = text

	for _, a := range content.MediaAttachments {
		post.Media = append(post.Media, model.Media{
			URL:     a.URL,
			AltText: a.Description,
			Kind:    mediaKind(a.Type),
		})
	}
	for _, t := range content.Tags {
		post.Tags = append(post.Tags, t.Name)
	}
	return post
}
