package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

// RSS reads RSS and Atom feeds through gofeed. Identity is the item URL;
// guids are ignored so the same article republished under a new guid does
// not duplicate.
type RSS struct {
	fetcher          *fetch.Fetcher
	parser           *gofeed.Parser
	minContentLength int
	logger           *zerolog.Logger
}

// NewRSS creates the RSS adapter.
func NewRSS(fetcher *fetch.Fetcher, minContentLength int, logger *zerolog.Logger) *RSS {
	return &RSS{
		fetcher:          fetcher,
		parser:           gofeed.NewParser(),
		minContentLength: minContentLength,
		logger:           logger,
	}
}

func (a *RSS) Kind() string { return domain.SourceTypeRSS }

func (a *RSS) Fetch(ctx context.Context, src *domain.Source) (<-chan Candidate, error) {
	res, err := a.fetcher.Fetch(ctx, src.URL, fetch.Options{AcceptGzip: true})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", src.URL, err)
	}

	feed, err := a.parser.ParseString(string(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	out := make(chan Candidate, len(feed.Items))
	defer close(out)

	for i, item := range feed.Items {
		cand, ok := a.candidate(src, i, item)
		if !ok {
			continue
		}

		out <- cand
	}

	return out, nil
}

// NeedsBodyExtraction is true when the feed carried no body or only a
// teaser shorter than the minimum content length.
func (a *RSS) NeedsBodyExtraction(c *Candidate) bool {
	return len([]rune(c.Content)) < a.minContentLength
}

func (a *RSS) candidate(src *domain.Source, order int, item *gofeed.Item) (Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return Candidate{}, false
	}

	if resolved, err := htmlutils.ResolveURL(src.URL, link); err == nil {
		link = resolved
	}

	canonical, err := htmlutils.CanonicalURL(link)
	if err != nil {
		a.logger.Debug().Str("url", link).Err(err).Msg("Skipping feed item with bad URL")
		return Candidate{}, false
	}

	cand := Candidate{
		Title: strings.TrimSpace(item.Title),
		URL:   canonical,
		Order: order,
	}

	// content:encoded beats description when both are present.
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}

	cand.Content = htmlutils.VisibleText(body)

	switch {
	case item.PublishedParsed != nil:
		cand.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		cand.PublishedAt = *item.UpdatedParsed
	}

	if item.Image != nil && item.Image.URL != "" {
		cand.ImageURL = item.Image.URL
	}

	cand.Media = enclosureMedia(item.Enclosures)

	if cand.ImageURL == "" {
		for _, m := range cand.Media {
			if m.Type == htmlutils.MediaImage {
				cand.ImageURL = m.URL
				break
			}
		}
	}

	return cand, true
}

// enclosureMedia converts feed enclosures into media references, classified
// by MIME prefix.
func enclosureMedia(enclosures []*gofeed.Enclosure) []htmlutils.Media {
	if len(enclosures) == 0 {
		return nil
	}

	media := make([]htmlutils.Media, 0, len(enclosures))
	seen := make(map[string]bool, len(enclosures))

	for _, enc := range enclosures {
		if enc == nil || enc.URL == "" || seen[enc.URL] {
			continue
		}

		seen[enc.URL] = true

		mediaType := htmlutils.MediaDocument

		switch {
		case strings.HasPrefix(enc.Type, "image/"):
			mediaType = htmlutils.MediaImage
		case strings.HasPrefix(enc.Type, "video/"), strings.HasPrefix(enc.Type, "audio/"):
			mediaType = htmlutils.MediaVideo
		}

		media = append(media, htmlutils.Media{URL: enc.URL, Type: mediaType})
	}

	return media
}
