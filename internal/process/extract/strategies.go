package extract

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const maxLearnedPatterns = 3

// tryLearned applies remembered selectors, best first. Headless-bound
// patterns are left for the render pass, where their selectors can actually
// match something.
func (e *Extractor) tryLearned(ctx context.Context, page *pageContext) *candidate {
	patterns, err := e.memory.Lookup(ctx, page.domain)
	if err != nil {
		e.logger.Warn().Err(err).Str("domain", page.domain).Msg("Pattern lookup failed")
		return nil
	}

	tried := 0

	for _, p := range patterns {
		if p.Selector == "" || p.Strategy == domain.StrategyHeadless {
			continue
		}

		if tried == maxLearnedPatterns {
			break
		}

		tried++
		selector := p.Selector

		if cand := e.attempt(ctx, page, domain.StrategyLearnedSelector, false, func() (string, string) {
			return selectorText(page.doc, selector), selector
		}); cand != nil {
			return cand
		}
	}

	return nil
}

// readabilityText runs go-readability over the page and falls back to block
// scoring when the library's output fails the gate.
func (e *Extractor) readabilityText(page *pageContext) string {
	if u, err := url.Parse(page.url); err == nil {
		if article, err := readability.FromReader(strings.NewReader(page.html), u); err == nil {
			text := htmlutils.CollapseWhitespace(article.TextContent)
			if _, reason := contentGate(text, e.cfg.MinContentLength); reason == "" {
				return text
			}
		}
	}

	return bestScoredBlock(page.doc, e.cfg.MinContentLength)
}

// prioritizedSelectors run from most specific to most generic: microdata,
// semantic HTML5 containers, CMS body classes, catch-all containers.
var prioritizedSelectors = []string{
	`[itemprop="articleBody"]`,
	`[itemprop="text"]`,
	"main article",
	"article",
	"main",
	`[role="main"]`,
	".prose",
	".entry-content",
	".post-content",
	".article-content",
	".article__text",
	".story-content",
	".news-content",
	".post-body",
	".article-body",
	".news-text",
	".material-text",
	".full-text",
	".story-text",
	"#content",
	".content",
}

// prioritizedText returns the first prioritized selector whose text clears
// the gate, or the longest candidate seen so the attempt record still
// carries its size.
func (e *Extractor) prioritizedText(doc *goquery.Document) (string, string) {
	best, bestSelector := "", ""

	for _, selector := range prioritizedSelectors {
		text := selectorText(doc, selector)
		if text == "" {
			continue
		}

		if _, reason := contentGate(text, e.cfg.MinContentLength); reason == "" {
			return text, selector
		}

		if utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best, bestSelector = text, selector
		}
	}

	return best, bestSelector
}

// tryHeadless renders the page and re-runs the static strategies over the
// resulting DOM. The rendered page is returned even on failure so AI
// discovery can work with the richer markup.
func (e *Extractor) tryHeadless(ctx context.Context, page *pageContext) (*candidate, *pageContext) {
	renderCtx, cancel := context.WithTimeout(ctx, e.memory.RenderTimeout(page.domain))
	defer cancel()

	renderedHTML, err := e.renderer.Render(renderCtx, page.url, "")
	e.memory.RecordRenderOutcome(page.domain, err == nil)

	if err != nil {
		e.logger.Debug().Err(err).Str("url", page.url).Msg("Headless render failed")
		return nil, nil
	}

	rendered, err := newPage(page.url, page.domain, renderedHTML, page.status)
	if err != nil {
		return nil, nil
	}

	cand := e.attempt(ctx, rendered, domain.StrategyHeadless, false, func() (string, string) {
		return e.renderedCandidate(ctx, rendered)
	})

	return cand, rendered
}

// renderedCandidate re-runs the static strategies over a rendered DOM, then
// falls back to paragraph collection and the raw body. Returns the first
// gate-passing candidate, or the longest failure for the record.
func (e *Extractor) renderedCandidate(ctx context.Context, rendered *pageContext) (string, string) {
	best, bestSelector := "", ""

	consider := func(text, selector string) bool {
		if text == "" {
			return false
		}

		if _, reason := contentGate(text, e.cfg.MinContentLength); reason == "" {
			return true
		}

		if utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best, bestSelector = text, selector
		}

		return false
	}

	patterns, err := e.memory.Lookup(ctx, rendered.domain)
	if err == nil {
		for _, p := range patterns {
			if p.Selector == "" {
				continue
			}

			if text := selectorText(rendered.doc, p.Selector); consider(text, p.Selector) {
				return text, p.Selector
			}
		}
	}

	if text := e.readabilityText(rendered); consider(text, "") {
		return text, ""
	}

	if text := structuredBody(rendered); consider(text, "") {
		return text, ""
	}

	if text, selector := e.prioritizedText(rendered.doc); consider(text, selector) {
		return text, selector
	}

	if text := paragraphFallback(rendered.doc); consider(text, "") {
		return text, ""
	}

	if text := bodyFallback(rendered.doc, e.cfg.MinContentLength); consider(text, "") {
		return text, ""
	}

	return best, bestSelector
}

// tryAIDiscovery asks the model for candidate selectors, validates each one
// against the live DOM and remembers what worked. Gated by the extraction
// memory so stable domains never spend credits.
func (e *Extractor) tryAIDiscovery(ctx context.Context, page *pageContext) *candidate {
	if e.ai == nil {
		return nil
	}

	invoke, err := e.memory.ShouldInvokeAI(ctx, page.domain)
	if err != nil {
		e.logger.Warn().Err(err).Str("domain", page.domain).Msg("AI gate check failed")
		return nil
	}

	if !invoke {
		return nil
	}

	compressed := CompressDOM(page.html, compressedDOMRunes)
	if compressed == "" {
		return nil
	}

	start := time.Now()

	selectors, err := e.ai.ExtractSelectors(ctx, compressed, page.domain)
	if err != nil {
		e.logger.Warn().Err(err).Str("domain", page.domain).Msg("Selector discovery call failed")
		return nil
	}

	var (
		validated []string
		winner    *candidate
	)

	for _, selector := range selectors {
		cand := e.attempt(ctx, page, domain.StrategyLearnedSelector, true, func() (string, string) {
			return selectorText(page.doc, selector), selector
		})
		if cand == nil {
			continue
		}

		validated = append(validated, selector)

		if winner == nil {
			winner = cand
		}
	}

	if err := e.memory.RecordAIDiscovery(ctx, page.domain, validated, 0); err != nil {
		e.logger.Warn().Err(err).Str("domain", page.domain).Msg("Recording AI discovery failed")
	}

	reason := "no proposed selector validated"
	content, quality := "", 0.0

	if winner != nil {
		reason = ""
		content, quality = winner.content, winner.quality
	}

	e.record(ctx, page, domain.StrategyAIDiscovery, "", content, quality, reason, time.Since(start), true)

	if winner == nil {
		return nil
	}

	return &candidate{
		content:  winner.content,
		strategy: domain.StrategyAIDiscovery,
		selector: winner.selector,
		quality:  winner.quality,
	}
}

// selectorText extracts visible text from the first matching element that
// carries any.
func selectorText(doc *goquery.Document, selector string) string {
	var text string

	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(sel.Nodes) == 0 {
			return true
		}

		text = htmlutils.NodeText(sel.Nodes[0])

		return text == ""
	})

	return text
}

const (
	minParagraphRunes    = 50
	minParagraphCount    = 3
	minCombinedParaRunes = 500
)

// paragraphFallback joins substantial paragraphs when no container matched.
func paragraphFallback(doc *goquery.Document) string {
	var parts []string

	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := htmlutils.NodeText(sel.Nodes[0])
		if utf8.RuneCountInString(text) > minParagraphRunes {
			parts = append(parts, text)
		}
	})

	if len(parts) < minParagraphCount {
		return ""
	}

	combined := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(combined) <= minCombinedParaRunes {
		return ""
	}

	return combined
}

// bodyFallback is the last resort on rendered pages: the whole visible body,
// if there is enough of it.
func bodyFallback(doc *goquery.Document, minRunes int) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}

	text := htmlutils.NodeText(body.Nodes[0])
	if utf8.RuneCountInString(text) <= minRunes {
		return ""
	}

	return text
}

const (
	blockMinRunes     = 120
	blockMaxLinkShare = 0.4
	blockCandidateCap = 5
)

// Naming hints mirror what CMS themes call their content and chrome
// containers.
var (
	positiveBlockHints = []string{"content", "article", "story", "text", "body", "material", "post", "entry", "news"}
	negativeBlockHints = []string{"nav", "menu", "sidebar", "footer", "comment", "related", "promo", "banner", "share", "social", "widget", "subscribe"}
)

type scoredBlock struct {
	text  string
	score float64
}

// bestScoredBlock scores paragraph-bearing containers by text mass against
// link density and returns the best candidate that clears the gate, or the
// top scorer for the record.
func bestScoredBlock(doc *goquery.Document, minRunes int) string {
	blocks := scoreBlocks(doc)
	if len(blocks) == 0 {
		return ""
	}

	limit := min(len(blocks), blockCandidateCap)
	for _, block := range blocks[:limit] {
		if _, reason := contentGate(block.text, minRunes); reason == "" {
			return block.text
		}
	}

	return blocks[0].text
}

func scoreBlocks(doc *goquery.Document) []scoredBlock {
	var blocks []scoredBlock

	doc.Find("article, main, section, div").Each(func(_ int, sel *goquery.Selection) {
		text := htmlutils.NodeText(sel.Nodes[0])

		total := utf8.RuneCountInString(text)
		if total < blockMinRunes {
			return
		}

		linked := 0

		sel.Find("a").Each(func(_ int, a *goquery.Selection) {
			linked += utf8.RuneCountInString(strings.TrimSpace(a.Text()))
		})

		density := float64(linked) / float64(total)
		if density > blockMaxLinkShare {
			return
		}

		score := float64(total) * (1 - density)

		hints := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
		for _, hint := range positiveBlockHints {
			if strings.Contains(hints, hint) {
				score *= 1.3
				break
			}
		}

		for _, hint := range negativeBlockHints {
			if strings.Contains(hints, hint) {
				score *= 0.3
				break
			}
		}

		if goquery.NodeName(sel) == "article" {
			score *= 1.5
		}

		blocks = append(blocks, scoredBlock{text: text, score: score})
	})

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].score > blocks[j].score })

	return blocks
}
