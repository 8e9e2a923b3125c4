package llm

import "time"

// Cache kinds, one per operation; part of every cache key.
const (
	kindAnalyze   = "analyze"
	kindSelectors = "selectors"
	kindSummary   = "category_summary"
)

const (
	minAnalyzeRunes = 30

	rateBurst = 5

	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute

	retryBackoff      = 2 * time.Second
	defaultRetryAfter = 20 * time.Second

	// Prompt input caps keep token spend bounded.
	maxPromptBodyRunes = 3500
	maxPromptDOMRunes  = 8000
	maxBriefRunes      = 300

	categorySummaryLimit = 850
	maxSelectors         = 5
	minSelectorScore     = 0.3

	defaultCategoryConfidence = 0.5
	defaultContentQuality     = 0.7

	adTypeNews = "news_article"

	tempAnalysis = 0.2
	tempDigest   = 0.4

	cacheMaxEntries      = 2048
	cacheJanitorInterval = 10 * time.Minute
)

// Error message templates.
const (
	errRateLimiter = "rate limiter error: %w"
)
