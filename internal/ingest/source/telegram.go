package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const (
	telegramPreviewBase = "https://t.me/s/"
	telegramPostBase    = "https://t.me/"

	// MetadataForwardedFrom names the original channel on forwarded messages.
	MetadataForwardedFrom = "forwarded_from"

	messageTitleMaxRunes = 120
)

var (
	errNoChannelName = errors.New("telegram source has no channel name")

	brTagRegex   = regexp.MustCompile(`(?i)<br\s*/?>`)
	bgImageRegex = regexp.MustCompile(`background-image:\s*url\('([^']+)'\)`)
)

// Telegram reads public channels through the t.me/s/ web preview. No bot
// membership or MTProto session is needed; only public channels work.
type Telegram struct {
	fetcher     *fetch.Fetcher
	previewBase string
	logger      *zerolog.Logger
}

// NewTelegram creates the telegram preview adapter.
func NewTelegram(fetcher *fetch.Fetcher, logger *zerolog.Logger) *Telegram {
	return &Telegram{fetcher: fetcher, previewBase: telegramPreviewBase, logger: logger}
}

func (a *Telegram) Kind() string { return domain.SourceTypeTelegram }

func (a *Telegram) Fetch(ctx context.Context, src *domain.Source) (<-chan Candidate, error) {
	channel := telegramChannelName(src.URL)
	if channel == "" {
		return nil, fmt.Errorf("%w: %q", errNoChannelName, src.URL)
	}

	res, err := a.fetcher.Fetch(ctx, a.previewBase+channel, fetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch channel preview %s: %w", channel, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse channel preview %s: %w", channel, err)
	}

	messages := doc.Find(".tgme_widget_message")

	out := make(chan Candidate, messages.Length())
	defer close(out)

	order := 0

	messages.Each(func(_ int, sel *goquery.Selection) {
		cand, ok := a.candidate(order, sel)
		if !ok {
			return
		}

		out <- cand
		order++
	})

	return out, nil
}

// NeedsBodyExtraction is always false: the preview text is the message body.
func (a *Telegram) NeedsBodyExtraction(_ *Candidate) bool { return false }

func (a *Telegram) candidate(order int, sel *goquery.Selection) (Candidate, bool) {
	post, ok := sel.Attr("data-post")
	if !ok || post == "" {
		return Candidate{}, false
	}

	msgURL := telegramPostBase + post

	var text string

	if textSel := sel.Find(".tgme_widget_message_text").First(); textSel.Length() > 0 {
		if inner, err := textSel.Html(); err == nil {
			text = messageText(inner)
		}
	}

	media := a.harvestMessageMedia(sel, msgURL)

	// Service messages (pinned notices, join events) have neither.
	if text == "" && len(media) == 0 {
		return Candidate{}, false
	}

	cand := Candidate{
		Title:   messageTitle(text),
		URL:     msgURL,
		Content: text,
		Media:   media,
		Order:   order,
	}

	for _, m := range media {
		if m.Type == htmlutils.MediaImage {
			cand.ImageURL = m.URL
			break
		}
	}

	if dt, ok := sel.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			cand.PublishedAt = ts
		}
	}

	if fwd := strings.TrimSpace(sel.Find(".tgme_widget_message_forwarded_from_name").First().Text()); fwd != "" {
		cand.Metadata = map[string]string{MetadataForwardedFrom: fwd}
	}

	return cand, true
}

func (a *Telegram) harvestMessageMedia(sel *goquery.Selection, msgURL string) []htmlutils.Media {
	var media []htmlutils.Media

	sel.Find(".tgme_widget_message_photo_wrap").Each(func(_ int, photo *goquery.Selection) {
		if u := backgroundImageURL(photo.AttrOr("style", "")); u != "" {
			media = append(media, htmlutils.Media{URL: u, Type: htmlutils.MediaImage})
		}
	})

	sel.Find("video").Each(func(_ int, video *goquery.Selection) {
		src := video.AttrOr("src", "")
		if src == "" {
			return
		}

		m := htmlutils.Media{URL: src, Type: htmlutils.MediaVideo}

		thumbStyle := video.Parent().Find(".tgme_widget_message_video_thumb").First().AttrOr("style", "")
		if poster := backgroundImageURL(thumbStyle); poster != "" {
			m.Thumbnail = poster
		}

		media = append(media, m)
	})

	// Document previews carry no direct file URL; point at the post itself.
	if sel.Find(".tgme_widget_message_document").Length() > 0 {
		media = append(media, htmlutils.Media{URL: msgURL, Type: htmlutils.MediaDocument})
	}

	return media
}

// telegramChannelName extracts the channel name from any of the accepted
// source URL shapes: @name, t.me/name, t.me/s/name, https://t.me/name, name.
func telegramChannelName(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")

	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.Trim(u.Path, "/")
	} else {
		s = strings.TrimPrefix(s, "t.me/")
	}

	s = strings.TrimPrefix(s, "s/")

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}

	return s
}

// messageText converts the preview message HTML into plain text with line
// breaks preserved.
func messageText(innerHTML string) string {
	withBreaks := brTagRegex.ReplaceAllString(innerHTML, "\n")
	return htmlutils.CollapseWhitespace(html.UnescapeString(htmlutils.StripHTMLTags(withBreaks)))
}

// messageTitle derives a title from the first line of the message.
func messageTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) > messageTitleMaxRunes {
		line = strings.TrimSpace(string(runes[:messageTitleMaxRunes])) + "…"
	}

	return line
}

func backgroundImageURL(style string) string {
	m := bgImageRegex.FindStringSubmatch(style)
	if len(m) < 2 {
		return ""
	}

	return m[1]
}
