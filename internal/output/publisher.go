// Package output assembles the daily digest and delivers it to the
// outbound channels.
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/output/telegram"
	"github.com/lueurxax/newspipe/internal/output/telegraph"
	db "github.com/lueurxax/newspipe/internal/storage"
)

// DigestSender posts digest message parts to a chat.
type DigestSender interface {
	SendDigest(ctx context.Context, parts []string, buttonURL string) error
}

// ListingPublisher renders the full article listing and returns its URL.
type ListingPublisher interface {
	PublishListing(ctx context.Context, date time.Time, categories []telegraph.Category) (string, error)
}

// Publisher sends the digest message with a link to the full listing page.
type Publisher struct {
	sender  DigestSender
	listing ListingPublisher
	logger  *zerolog.Logger
}

// NewPublisher wires the digest sender with an optional listing publisher.
// A nil listing sends digests without the read-more button.
func NewPublisher(sender DigestSender, listing ListingPublisher, logger *zerolog.Logger) *Publisher {
	return &Publisher{sender: sender, listing: listing, logger: logger}
}

// PublishDigest posts the stored category summaries as one digest. A
// listing failure degrades to a digest without the read-more button.
func (p *Publisher) PublishDigest(ctx context.Context, date time.Time, summaries []db.DailySummary, articles []db.DigestArticle) error {
	parts := telegram.BuildDigestMessages(date, summaries)
	if len(parts) == 0 {
		return nil
	}

	var buttonURL string

	if p.listing != nil && len(articles) > 0 {
		url, err := p.listing.PublishListing(ctx, date, GroupArticles(articles))

		switch {
		case err == nil:
			buttonURL = url
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.logger.Warn().Err(err).Msg("telegraph listing failed, sending digest without link")
		}
	}

	if err := p.sender.SendDigest(ctx, parts, buttonURL); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	return nil
}

// GroupArticles converts digest rows into listing categories, preserving
// the stored order (category name, then confidence).
func GroupArticles(articles []db.DigestArticle) []telegraph.Category {
	var categories []telegraph.Category

	for _, a := range articles {
		if len(categories) == 0 || categories[len(categories)-1].Name != a.CategoryName {
			categories = append(categories, telegraph.Category{Name: a.CategoryName})
		}

		last := &categories[len(categories)-1]
		last.Articles = append(last.Articles, telegraph.Article{
			Title:   a.Title,
			Summary: a.Summary,
			Links:   []string{a.URL},
		})
	}

	return categories
}
