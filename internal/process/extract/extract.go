// Package extract resolves article URLs into clean text bodies. Strategies
// run from cheapest to most expensive: remembered selectors, readability,
// structured data, prioritized CSS selectors, headless rendering and finally
// AI selector discovery. Every attempt is recorded through the extraction
// memory so the next article from the same domain starts smarter.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/process/memory"
)

var (
	// ErrNotFound means the article URL no longer resolves to a page.
	ErrNotFound = errors.New("article not found")

	// ErrEmpty means the page fetched fine but carried no usable markup.
	ErrEmpty = errors.New("empty page")

	// ErrQualityFail means every strategy ran and none produced content
	// that passed the quality gate.
	ErrQualityFail = errors.New("no strategy produced acceptable content")

	// ErrTimeout covers fetch timeouts and transient network failures.
	ErrTimeout = errors.New("fetch timed out")
)

// BlockedError is returned when the site actively refuses the request.
type BlockedError struct {
	Status int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by site: HTTP %d", e.Status)
}

// Fetcher retrieves raw pages over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Result, error)
}

// Renderer produces a post-JavaScript DOM for pages that need it. A nil
// Renderer disables the headless strategy.
type Renderer interface {
	Render(ctx context.Context, rawURL, waitSelector string) (string, error)
}

// Extraction is the final product of a successful strategy run.
type Extraction struct {
	Content     string
	Title       string
	Description string
	Strategy    string
	Selector    string
	Quality     float64
	PublishedAt *time.Time
	Media       []htmlutils.Media
}

// candidate is a gate-passing strategy result before metadata is attached.
type candidate struct {
	content  string
	strategy string
	selector string
	quality  float64
}

// pageContext carries one parsed page through the strategy ladder.
type pageContext struct {
	url    string
	domain string
	html   string
	status int
	doc    *goquery.Document

	sd      *structuredData
	maxSeen int
}

func newPage(rawURL, dom, htmlSrc string, status int) (*pageContext, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, err
	}

	return &pageContext{url: rawURL, domain: dom, html: htmlSrc, status: status, doc: doc}, nil
}

// structured parses JSON-LD, microdata and Open Graph tags once per page.
func (p *pageContext) structured() *structuredData {
	if p.sd == nil {
		p.sd = parseStructured(p.doc)
	}

	return p.sd
}

// pageMeta is metadata harvested independently of the content strategy.
type pageMeta struct {
	title       string
	description string
	published   *time.Time
	media       []htmlutils.Media
}

// Extractor runs the strategy ladder over fetched pages.
type Extractor struct {
	cfg      *config.Config
	fetcher  Fetcher
	renderer Renderer
	memory   *memory.Memory
	ai       llm.Client
	logger   *zerolog.Logger
}

// New builds an Extractor. renderer and ai may be nil, which disables the
// headless and AI discovery strategies respectively.
func New(cfg *config.Config, fetcher Fetcher, renderer Renderer, mem *memory.Memory, ai llm.Client, logger *zerolog.Logger) *Extractor {
	return &Extractor{
		cfg:      cfg,
		fetcher:  fetcher,
		renderer: renderer,
		memory:   mem,
		ai:       ai,
		logger:   logger,
	}
}

// Extract resolves one article URL into a clean text body. When rawHTML is
// non-empty it is used as the page source and no fetch happens.
func (e *Extractor) Extract(ctx context.Context, rawURL, rawHTML string) (*Extraction, error) {
	status := 0

	if rawHTML == "" {
		res, err := e.fetcher.Fetch(ctx, rawURL, fetch.Options{})
		if err != nil {
			return nil, mapFetchError(err)
		}

		status = res.Status
		rawHTML = string(res.Body)
	}

	if strings.TrimSpace(rawHTML) == "" {
		return nil, ErrEmpty
	}

	page, err := newPage(rawURL, htmlutils.Domain(rawURL), rawHTML, status)
	if err != nil {
		return nil, fmt.Errorf("parse article page: %w", err)
	}

	ext, err := e.extractFromPage(ctx, page, true)
	if err != nil {
		return nil, err
	}

	ext = e.followReadMore(ctx, page, ext)
	ext.Content = truncateAtSentence(ext.Content, e.cfg.MaxContentLength)

	return ext, nil
}

// extractFromPage runs the ladder over an already parsed page. With full
// unset only the static strategies run, which keeps linked-page follows
// from spending renders and AI calls.
func (e *Extractor) extractFromPage(ctx context.Context, page *pageContext, full bool) (*Extraction, error) {
	meta := e.collectMeta(page)

	if cand := e.tryLearned(ctx, page); cand != nil {
		return assemble(cand, meta), nil
	}

	if cand := e.attempt(ctx, page, domain.StrategyReadability, false, func() (string, string) {
		return e.readabilityText(page), ""
	}); cand != nil {
		return assemble(cand, meta), nil
	}

	if cand := e.attempt(ctx, page, domain.StrategyStructured, false, func() (string, string) {
		return structuredBody(page), ""
	}); cand != nil {
		return assemble(cand, meta), nil
	}

	if cand := e.attempt(ctx, page, domain.StrategyCSSSelectors, false, func() (string, string) {
		return e.prioritizedText(page.doc)
	}); cand != nil {
		return assemble(cand, meta), nil
	}

	if !full {
		return nil, ErrQualityFail
	}

	aiPage := page

	if e.renderer != nil && e.shouldRender(ctx, page) {
		cand, rendered := e.tryHeadless(ctx, page)
		if cand != nil {
			meta = mergeMeta(meta, e.collectMeta(rendered))
			return assemble(cand, meta), nil
		}

		if rendered != nil {
			aiPage = rendered
		}
	}

	if cand := e.tryAIDiscovery(ctx, aiPage); cand != nil {
		return assemble(cand, meta), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	e.memory.RecordAllStrategiesFailed(page.domain)

	return nil, ErrQualityFail
}

// shouldRender decides whether the headless strategy is worth its cost:
// never during render backoff, otherwise when the domain is known to need
// JavaScript or the static strategies came up short on content.
func (e *Extractor) shouldRender(ctx context.Context, page *pageContext) bool {
	if inBackoff, remaining := e.memory.InRenderBackoff(page.domain); inBackoff {
		e.logger.Debug().
			Str("domain", page.domain).
			Dur("remaining", remaining).
			Msg("Render skipped, domain in backoff")

		return false
	}

	needs, err := e.memory.NeedsRender(ctx, page.domain)
	if err != nil {
		e.logger.Warn().Err(err).Str("domain", page.domain).Msg("Needs-render check failed")

		needs = false
	}

	return needs || page.maxSeen < e.cfg.MinContentLength
}

// attempt runs one strategy, gates its output and records the outcome.
// Returns nil when the content failed the gate.
func (e *Extractor) attempt(ctx context.Context, page *pageContext, strategy string, aiTriggered bool, runFn func() (string, string)) *candidate {
	start := time.Now()
	content, selector := runFn()
	elapsed := time.Since(start)

	content = strings.TrimSpace(content)
	quality, reason := contentGate(content, e.cfg.MinContentLength)

	if n := utf8.RuneCountInString(content); n > page.maxSeen {
		page.maxSeen = n
	}

	e.record(ctx, page, strategy, selector, content, quality, reason, elapsed, aiTriggered)

	if reason != "" {
		return nil
	}

	return &candidate{content: content, strategy: strategy, selector: selector, quality: quality}
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

func (e *Extractor) record(ctx context.Context, page *pageContext, strategy, selector, content string, quality float64, reason string, elapsed time.Duration, aiTriggered bool) {
	status := statusFailure
	if reason == "" {
		status = statusSuccess
	}

	observability.ExtractionAttempts.WithLabelValues(strategy, status).Inc()
	observability.ExtractionDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())

	att := &domain.ExtractionAttempt{
		ArticleURL:    page.url,
		Domain:        page.domain,
		Strategy:      strategy,
		Selector:      selector,
		Success:       reason == "",
		ContentLength: utf8.RuneCountInString(content),
		Quality:       float32(quality),
		ElapsedMS:     int(elapsed.Milliseconds()),
		ErrorMessage:  reason,
		AITriggered:   aiTriggered,
		UserAgent:     e.cfg.FetchUserAgent,
		HTTPStatus:    page.status,
	}

	if err := e.memory.RecordAttempt(ctx, att); err != nil {
		e.logger.Warn().
			Err(err).
			Str("domain", page.domain).
			Str("strategy", strategy).
			Msg("Recording extraction attempt failed")
	}
}

// teaserFactor bounds the read-more follow: bodies at least this many times
// the minimum length are considered complete articles already.
const teaserFactor = 3

// followReadMore chases a teaser's full-article link once and keeps the
// longer body.
func (e *Extractor) followReadMore(ctx context.Context, page *pageContext, ext *Extraction) *Extraction {
	if utf8.RuneCountInString(ext.Content) >= e.cfg.MinContentLength*teaserFactor {
		return ext
	}

	target := readMoreTarget(page.doc, page.url)
	if target == "" {
		return ext
	}

	res, err := e.fetcher.Fetch(ctx, target, fetch.Options{})
	if err != nil {
		e.logger.Debug().Err(err).Str("url", target).Msg("Read-more follow failed")
		return ext
	}

	linked, err := newPage(target, htmlutils.Domain(target), string(res.Body), res.Status)
	if err != nil {
		return ext
	}

	full, err := e.extractFromPage(ctx, linked, false)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", target).Msg("Read-more extraction failed")
		return ext
	}

	if utf8.RuneCountInString(full.Content) <= utf8.RuneCountInString(ext.Content) {
		return ext
	}

	e.logger.Debug().
		Str("url", page.url).
		Str("followed", target).
		Msg("Teaser replaced by full article body")

	if full.Title == "" {
		full.Title = ext.Title
	}

	if full.Description == "" {
		full.Description = ext.Description
	}

	if full.PublishedAt == nil {
		full.PublishedAt = ext.PublishedAt
	}

	if len(full.Media) == 0 {
		full.Media = ext.Media
	}

	return full
}

// collectMeta harvests title, description, date and media independently of
// which content strategy wins.
func (e *Extractor) collectMeta(page *pageContext) pageMeta {
	sd := page.structured()

	return pageMeta{
		title:       coalesce(sd.ogTitle, sd.headline, docTitle(page.doc), headingText(page.doc)),
		description: sd.ogDescription,
		published:   extractDate(page),
		media:       htmlutils.HarvestMedia(page.html, page.url),
	}
}

func mergeMeta(primary, fallback pageMeta) pageMeta {
	if primary.title == "" {
		primary.title = fallback.title
	}

	if primary.description == "" {
		primary.description = fallback.description
	}

	if primary.published == nil {
		primary.published = fallback.published
	}

	if len(primary.media) == 0 {
		primary.media = fallback.media
	}

	return primary
}

func assemble(cand *candidate, meta pageMeta) *Extraction {
	return &Extraction{
		Content:     cand.content,
		Title:       meta.title,
		Description: meta.description,
		Strategy:    cand.strategy,
		Selector:    cand.selector,
		Quality:     cand.quality,
		PublishedAt: meta.published,
		Media:       meta.media,
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// mapFetchError translates transport failures into the package's error
// vocabulary so callers can branch without importing fetch.
func mapFetchError(err error) error {
	var perm *fetch.PermanentError
	if errors.As(err, &perm) {
		if perm.Status == http.StatusNotFound || perm.Status == http.StatusGone {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}

		return &BlockedError{Status: perm.Status}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fetch.ErrTransient) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
