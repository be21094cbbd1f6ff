package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/transform"
)

// ogTags holds the OpenGraph properties used for a link card.
type ogTags struct {
	Title       string
	Description string
	Image       string
}

// parseOpenGraph reads og: meta tags from an HTML document, falling back to
// <title> and the description meta tag. Parsing stops at </head>.
func parseOpenGraph(r io.Reader) ogTags {
	var og ogTags
	var title string
	z := html.NewTokenizer(r)
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return og.withTitle(title)
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Head:
				return og.withTitle(title)
			case atom.Title:
				inTitle = false
			}
		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(z.Text()))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch atom.Lookup(name) {
			case atom.Title:
				inTitle = true
			case atom.Meta:
				if hasAttr {
					og.meta(z)
				}
			}
		}
	}
}

func (og *ogTags) meta(z *html.Tokenizer) {
	var key, content string
	for {
		k, v, more := z.TagAttr()
		switch string(k) {
		case "property", "name":
			key = strings.ToLower(string(v))
		case "content":
			content = strings.TrimSpace(string(v))
		}
		if !more {
			break
		}
	}
	switch key {
	case "og:title":
		og.Title = content
	case "og:description":
		og.Description = content
	case "description":
		if og.Description == "" {
			og.Description = content
		}
	case "og:image", "og:image:url":
		if og.Image == "" {
			og.Image = content
		}
	}
}

func (og ogTags) withTitle(title string) ogTags {
	if og.Title == "" {
		og.Title = title
	}
	return og
}

// linkCard builds an external embed for link. A missing or broken thumbnail
// does not fail the card.
func (a *Adapter) linkCard(ctx context.Context, link string) (*external, error) {
	page, _, err := a.media.Download(ctx, "fetch link card", link)
	if err != nil {
		return nil, err
	}
	og := parseOpenGraph(bytes.NewReader(page))
	card := &external{URI: link, Title: og.Title, Description: og.Description}
	if og.Image == "" {
		return card, nil
	}

	thumb, err := a.thumbnail(ctx, link, og.Image)
	if err != nil {
		logging.WithContext(ctx).Debug("link card without thumbnail", logging.Err(err))
		return card, nil
	}
	card.Thumb = thumb
	return card, nil
}

func (a *Adapter) thumbnail(ctx context.Context, page, image string) (json.RawMessage, error) {
	base, err := url.Parse(page)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(image)
	if err != nil {
		return nil, err
	}
	data, mime, err := a.media.Download(ctx, "fetch link thumbnail", base.ResolveReference(ref).String())
	if err != nil {
		return nil, err
	}
	limits := a.Limits()
	data, mime, err = transform.FitImage(data, mime, limits.AcceptsImage, limits.MaxImageBytes, limits.MaxImageDimension)
	if err != nil {
		return nil, err
	}
	return a.uploadBlob(ctx, data, mime)
}
