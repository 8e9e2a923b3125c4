package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const snapshotRevisionLen = 12

// SnapshotStore persists the last seen digest per monitored page. *db.DB
// satisfies it through the settings table.
type SnapshotStore interface {
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)
	SetSetting(ctx context.Context, key string, value json.RawMessage, description string) error
}

// customConfig is the page monitor configuration stored in source.config.
type customConfig struct {
	Selectors     []string `json:"selectors"`
	TitleSelector string   `json:"title_selector"`
}

type pageSnapshot struct {
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Custom monitors an arbitrary page region selected by stored CSS selectors
// and emits a candidate only when the region content changes between
// fetches. Each change gets a revision query parameter so it persists as a
// distinct article instead of overwriting the previous one.
type Custom struct {
	fetcher     *fetch.Fetcher
	store       SnapshotStore
	notFoundErr error
	logger      *zerolog.Logger
}

// NewCustom creates the page monitor adapter. notFoundErr is the sentinel
// the store returns for a missing snapshot key.
func NewCustom(fetcher *fetch.Fetcher, store SnapshotStore, notFoundErr error, logger *zerolog.Logger) *Custom {
	return &Custom{fetcher: fetcher, store: store, notFoundErr: notFoundErr, logger: logger}
}

func (a *Custom) Kind() string { return domain.SourceTypeCustom }

func (a *Custom) Fetch(ctx context.Context, src *domain.Source) (<-chan Candidate, error) {
	var cfg customConfig

	if len(src.Config) > 0 {
		if err := json.Unmarshal(src.Config, &cfg); err != nil {
			return nil, fmt.Errorf("source %d config: %w", src.ID, err)
		}
	}

	if len(cfg.Selectors) == 0 {
		cfg.Selectors = []string{"body"}
	}

	res, err := a.fetcher.Fetch(ctx, src.URL, fetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", src.URL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", src.URL, err)
	}

	text := a.selectedRegionText(doc, cfg.Selectors)
	if text == "" {
		return closedCandidates(), nil
	}

	sum := sha256.Sum256([]byte(text))
	digest := hex.EncodeToString(sum[:])

	key := snapshotKey(src.ID)

	prev, err := a.loadSnapshot(ctx, key)
	if err != nil {
		a.logger.Warn().Int64("source_id", src.ID).Err(err).Msg("Reading page snapshot failed, treating as first run")
	}

	if prev != nil && prev.Digest == digest {
		return closedCandidates(), nil
	}

	if err := a.saveSnapshot(ctx, key, digest); err != nil {
		return nil, fmt.Errorf("save page snapshot: %w", err)
	}

	// First observation establishes the baseline without emitting.
	if prev == nil {
		return closedCandidates(), nil
	}

	cand := Candidate{
		Title:       a.pageTitle(doc, cfg.TitleSelector, src.Name),
		URL:         revisionURL(src.URL, digest),
		Content:     text,
		PublishedAt: time.Now(),
	}

	out := make(chan Candidate, 1)
	out <- cand
	close(out)

	return out, nil
}

// NeedsBodyExtraction is always false: the selected region is the content.
func (a *Custom) NeedsBodyExtraction(_ *Candidate) bool { return false }

func (a *Custom) selectedRegionText(doc *goquery.Document, selectors []string) string {
	var region strings.Builder

	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if h, err := goquery.OuterHtml(sel); err == nil {
				region.WriteString(h)
			}
		})
	}

	return strings.TrimSpace(htmlutils.VisibleText(region.String()))
}

func (a *Custom) pageTitle(doc *goquery.Document, titleSelector, fallback string) string {
	if titleSelector != "" {
		if t := strings.TrimSpace(doc.Find(titleSelector).First().Text()); t != "" {
			return t
		}
	}

	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}

	return fallback
}

func (a *Custom) loadSnapshot(ctx context.Context, key string) (*pageSnapshot, error) {
	raw, err := a.store.GetSetting(ctx, key)
	if err != nil {
		if a.notFoundErr != nil && errors.Is(err, a.notFoundErr) {
			return nil, nil
		}

		return nil, err
	}

	var snap pageSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return &snap, nil
}

func (a *Custom) saveSnapshot(ctx context.Context, key, digest string) error {
	raw, err := json.Marshal(pageSnapshot{Digest: digest, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	return a.store.SetSetting(ctx, key, raw, "page monitor snapshot")
}

func snapshotKey(sourceID int64) string {
	return fmt.Sprintf("custom_snapshot_%d", sourceID)
}

// revisionURL appends a rev parameter so each observed change keeps its own
// article identity. Canonicalization preserves query parameters.
func revisionURL(pageURL, digest string) string {
	rev := digest
	if len(rev) > snapshotRevisionLen {
		rev = rev[:snapshotRevisionLen]
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL + "?rev=" + rev
	}

	q := u.Query()
	q.Set("rev", rev)
	u.RawQuery = q.Encode()

	return u.String()
}
