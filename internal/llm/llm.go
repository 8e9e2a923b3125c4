// Package llm wraps the OpenAI-compatible provider endpoint behind three
// typed operations: unified article analysis, selector discovery, and
// category summaries. The client owns the global rate limit, circuit
// breaker, retry policy and response cache; callers never see a placeholder
// result, only values or typed errors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/platform/config"
)

// ErrBodyTooShort is returned when an article body is below the analysis
// minimum; no provider call is made.
var ErrBodyTooShort = errors.New("article body too short for analysis")

// ErrRateLimited wraps provider 429 responses after the retry budget is
// exhausted.
var ErrRateLimited = errors.New("provider rate limited")

// ErrCircuitOpen is returned while the circuit breaker suppresses calls.
var ErrCircuitOpen = errors.New("provider circuit breaker open")

// ErrEmptyResponse indicates the provider returned no usable content.
var ErrEmptyResponse = errors.New("empty provider response")

// ErrMalformedResponse indicates the provider answered but required fields
// never arrived, even after the strict retry.
var ErrMalformedResponse = errors.New("malformed provider response")

// ProviderError carries a non-retryable provider HTTP failure.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// CategoryScore is one AI-suggested category label with its confidence.
type CategoryScore struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// UnifiedAnalysis is the result of a single combined completion covering
// title optimization, categorization, summarization, ad detection and date
// extraction.
type UnifiedAnalysis struct {
	OptimizedTitle  string
	Categories      []CategoryScore
	Summary         string
	IsAdvertisement bool
	AdConfidence    float64
	AdType          string
	AdReasoning     string
	AdMarkers       []string
	PublicationDate *time.Time
	ContentQuality  float64
}

// Client is the provider surface the pipeline depends on.
type Client interface {
	// AnalyzeArticle runs the unified analysis over one article.
	AnalyzeArticle(ctx context.Context, title, body, url string) (*UnifiedAnalysis, error)

	// ExtractSelectors asks the provider for CSS selectors likely to hold
	// the main article content of pages on the given domain.
	ExtractSelectors(ctx context.Context, compressedDOM, domain string) ([]string, error)

	// CategorySummary merges per-article briefs into one coherent daily
	// overview for a category.
	CategorySummary(ctx context.Context, category string, briefs []string) (string, error)
}

// New returns the provider-backed client, or a deterministic mock when the
// API key is absent or set to "mock".
func New(cfg *config.Config, logger *zerolog.Logger) Client {
	if cfg.GeminiAPIKey == "" || cfg.GeminiAPIKey == "mock" {
		return &mockClient{cfg: cfg}
	}

	return newOpenAI(cfg, logger)
}

type mockClient struct {
	cfg *config.Config
}

func (c *mockClient) AnalyzeArticle(_ context.Context, title, body, _ string) (*UnifiedAnalysis, error) {
	trimmed := strings.TrimSpace(body)
	if utf8.RuneCountInString(trimmed) < minAnalyzeRunes {
		return nil, fmt.Errorf("%w: %d chars", ErrBodyTooShort, utf8.RuneCountInString(trimmed))
	}

	summary := trimmed
	if utf8.RuneCountInString(summary) > 200 {
		summary = string([]rune(summary)[:200])
	}

	return &UnifiedAnalysis{
		OptimizedTitle: title,
		Categories:     []CategoryScore{{Name: c.cfg.DefaultCategory, Confidence: 0.5}},
		Summary:        summary,
		AdType:         adTypeNews,
		ContentQuality: 0.7,
	}, nil
}

func (c *mockClient) ExtractSelectors(_ context.Context, _, _ string) ([]string, error) {
	return []string{"article", ".article-content", "main"}, nil
}

func (c *mockClient) CategorySummary(_ context.Context, _ string, briefs []string) (string, error) {
	if len(briefs) == 0 {
		return "", nil
	}

	return clipRunes(strings.Join(briefs, " "), categorySummaryLimit), nil
}
