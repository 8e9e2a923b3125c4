package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
)

type openaiClient struct {
	cfg     *config.Config
	client  *openai.Client
	logger  *zerolog.Logger
	limiter *rate.Limiter
	cache   *resultCache

	// Circuit breaker and rate-limit pause state.
	mu                  sync.Mutex
	consecutiveFailures int
	circuitOpenUntil    time.Time
	pausedUntil         time.Time
}

var _ Client = (*openaiClient)(nil)

func newOpenAI(cfg *config.Config, logger *zerolog.Logger) *openaiClient {
	clientCfg := openai.DefaultConfig(cfg.GeminiAPIKey)
	clientCfg.BaseURL = cfg.GeminiAPIEndpoint

	return &openaiClient{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientCfg),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RPS)), rateBurst),
		cache:   newResultCache(cacheMaxEntries, cfg.CacheTTL),
	}
}

func (c *openaiClient) AnalyzeArticle(ctx context.Context, title, body, url string) (*UnifiedAnalysis, error) {
	trimmed := strings.TrimSpace(body)
	if n := utf8.RuneCountInString(trimmed); n < minAnalyzeRunes {
		return nil, fmt.Errorf("%w: %d chars", ErrBodyTooShort, n)
	}

	key := cacheKey(kindAnalyze, analyzePromptVersion, title, trimmed, url, strings.Join(c.cfg.NewsCategories, ","))
	if v, ok := c.cache.get(key); ok {
		return v.(*UnifiedAnalysis), nil
	}

	prompt := c.analyzePrompt(title, trimmed, url)

	var (
		lastErr error
		strict  bool
	)

	for attempt := 0; attempt <= c.cfg.LLMMaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		p := prompt
		if strict {
			p += analyzeStrictSuffix
		}

		content, err := c.complete(ctx, kindAnalyze, c.cfg.SummarizationModel, p, tempAnalysis, true)
		if err != nil {
			if !isRetryable(err) {
				return nil, err
			}

			lastErr = err

			continue
		}

		raw, err := decodeAnalysis(content)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Undecodable analysis response")

			lastErr = err

			continue
		}

		if field := raw.missingField(); field != "" {
			lastErr = fmt.Errorf("%w: missing %s", ErrMalformedResponse, field)

			if !strict {
				// The strict retry happens at most once and does not consume
				// a transient attempt.
				strict = true
				attempt--
			}

			continue
		}

		result := raw.toUnified()
		c.cache.set(key, result)

		return result, nil
	}

	return nil, fmt.Errorf("analyze article: %w", lastErr)
}

func (c *openaiClient) ExtractSelectors(ctx context.Context, compressedDOM, domain string) ([]string, error) {
	if strings.TrimSpace(compressedDOM) == "" {
		return nil, fmt.Errorf("empty page structure for %q", domain)
	}

	key := cacheKey(kindSelectors, selectorsPromptVersion, domain, compressedDOM)
	if v, ok := c.cache.get(key); ok {
		return v.([]string), nil
	}

	prompt := selectorsPrompt(compressedDOM, domain)

	var (
		lastErr error
		strict  bool
	)

	for attempt := 0; attempt <= c.cfg.LLMMaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		p := prompt
		if strict {
			p += selectorsStrictSuffix
		}

		content, err := c.complete(ctx, kindSelectors, c.cfg.SummarizationModel, p, tempAnalysis, true)
		if err != nil {
			if !isRetryable(err) {
				return nil, err
			}

			lastErr = err

			continue
		}

		selectors, err := decodeSelectors(content)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Undecodable selectors response")

			lastErr = err

			continue
		}

		if len(selectors) == 0 {
			lastErr = fmt.Errorf("%w: missing selectors", ErrMalformedResponse)

			if !strict {
				strict = true
				attempt--
			}

			continue
		}

		c.cache.set(key, selectors)

		return selectors, nil
	}

	return nil, fmt.Errorf("extract selectors for %s: %w", domain, lastErr)
}

func (c *openaiClient) CategorySummary(ctx context.Context, category string, briefs []string) (string, error) {
	if len(briefs) == 0 {
		return "", nil
	}

	key := cacheKey(kindSummary, summaryPromptVersion, category, strings.Join(briefs, "\n"))
	if v, ok := c.cache.get(key); ok {
		return v.(string), nil
	}

	prompt := summaryPrompt(category, briefs)

	var lastErr error

	for attempt := 0; attempt <= c.cfg.LLMMaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		content, err := c.complete(ctx, kindSummary, c.cfg.DigestModel, prompt, tempDigest, false)
		if err != nil {
			if !isRetryable(err) {
				return "", err
			}

			lastErr = err

			continue
		}

		summary := clipSummary(content, categorySummaryLimit)
		c.cache.set(key, summary)

		return summary, nil
	}

	return "", fmt.Errorf("category summary for %s: %w", category, lastErr)
}

// complete performs one provider round trip: circuit check, rate-limit
// pause, token bucket wait, then the completion call.
func (c *openaiClient) complete(ctx context.Context, task, model, prompt string, temperature float32, wantJSON bool) (string, error) {
	if err := c.checkCircuit(); err != nil {
		return "", err
	}

	if err := c.waitForPause(ctx); err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf(errRateLimiter, err)
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if wantJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	observability.AIRequestDuration.WithLabelValues(model, task).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.recordFailure()
		observability.AIRequests.WithLabelValues(model, task, "error").Inc()

		return "", c.classifyError(err)
	}

	c.recordSuccess()
	observability.AIRequests.WithLabelValues(model, task, "ok").Inc()
	observability.AITokensPrompt.WithLabelValues(model, task).Add(float64(resp.Usage.PromptTokens))
	observability.AITokensCompletion.WithLabelValues(model, task).Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	return content, nil
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %s", ErrCircuitOpen, c.circuitOpenUntil.Format(time.RFC3339))
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
	observability.AICircuitBreakerState.Set(0)
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		observability.AICircuitBreakerState.Set(1)
		observability.AICircuitBreakerOpens.Inc()
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

// waitForPause blocks while a provider-requested rate-limit pause is in
// effect, so no outbound call happens before it expires.
func (c *openaiClient) waitForPause(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.pausedUntil)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	c.logger.Warn().Dur("wait", wait).Msg("Provider rate-limit pause active")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *openaiClient) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			delay := parseRetryAfter(apiErr.Message)

			c.mu.Lock()
			c.pausedUntil = time.Now().Add(delay)
			c.mu.Unlock()

			c.logger.Warn().Dur("retry_after", delay).Msg("Provider rate limited")

			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		}

		return &ProviderError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}

	return fmt.Errorf("chat completion: %w", err)
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrEmptyResponse):
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= http.StatusInternalServerError
	}

	return true
}

func sleepRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(retryBackoff * time.Duration(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var retryAfterRegex = regexp.MustCompile(`(?i)(?:retry|try again)[^0-9]*(\d+(?:\.\d+)?)\s*(ms|s|m)\b`)

const maxRetryAfter = 2 * time.Minute

// parseRetryAfter pulls the provider-suggested delay out of a 429 message.
func parseRetryAfter(msg string) time.Duration {
	m := retryAfterRegex.FindStringSubmatch(msg)
	if len(m) < 3 {
		return defaultRetryAfter
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return defaultRetryAfter
	}

	var d time.Duration

	switch strings.ToLower(m[2]) {
	case "ms":
		d = time.Duration(v * float64(time.Millisecond))
	case "m":
		d = time.Duration(v * float64(time.Minute))
	default:
		d = time.Duration(v * float64(time.Second))
	}

	if d > maxRetryAfter {
		return maxRetryAfter
	}

	return d
}

// flexFloat tolerates numbers arriving as strings or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}

	*f = flexFloat(v)

	return nil
}

// flexBool tolerates booleans arriving as strings or numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	*b = flexBool(s == "true" || s == "1" || s == "yes")

	return nil
}

type rawAnalysis struct {
	OptimizedTitle      string      `json:"optimized_title"`
	Categories          []string    `json:"categories"`
	CategoryConfidences []flexFloat `json:"category_confidences"`
	Summary             string      `json:"summary"`
	IsAdvertisement     flexBool    `json:"is_advertisement"`
	AdType              string      `json:"ad_type"`
	AdConfidence        flexFloat   `json:"ad_confidence"`
	AdReasoning         string      `json:"ad_reasoning"`
	AdMarkers           []string    `json:"ad_markers"`
	PublicationDate     string      `json:"publication_date"`
	ContentQuality      *flexFloat  `json:"content_quality"`
}

func decodeAnalysis(content string) (*rawAnalysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	return &raw, nil
}

func (r *rawAnalysis) missingField() string {
	if strings.TrimSpace(r.Summary) == "" {
		return "summary"
	}

	for _, name := range r.Categories {
		if strings.TrimSpace(name) != "" {
			return ""
		}
	}

	return "categories"
}

// toUnified coerces the loose response: confidences clamped to [0, 1],
// category and confidence arrays aligned by position, the date parsed.
func (r *rawAnalysis) toUnified() *UnifiedAnalysis {
	categories := make([]CategoryScore, 0, len(r.Categories))

	for i, name := range r.Categories {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		confidence := defaultCategoryConfidence
		if i < len(r.CategoryConfidences) {
			confidence = clamp01(float64(r.CategoryConfidences[i]))
		}

		categories = append(categories, CategoryScore{Name: name, Confidence: confidence})
	}

	quality := defaultContentQuality
	if r.ContentQuality != nil {
		quality = clamp01(float64(*r.ContentQuality))
	}

	adType := strings.TrimSpace(r.AdType)
	if adType == "" {
		adType = adTypeNews
	}

	var published *time.Time

	if s := strings.TrimSpace(r.PublicationDate); s != "" {
		if t, err := dateparse.ParseAny(s); err == nil {
			published = &t
		}
	}

	return &UnifiedAnalysis{
		OptimizedTitle:  strings.TrimSpace(r.OptimizedTitle),
		Categories:      categories,
		Summary:         strings.TrimSpace(r.Summary),
		IsAdvertisement: bool(r.IsAdvertisement),
		AdConfidence:    clamp01(float64(r.AdConfidence)),
		AdType:          adType,
		AdReasoning:     strings.TrimSpace(r.AdReasoning),
		AdMarkers:       r.AdMarkers,
		PublicationDate: published,
		ContentQuality:  quality,
	}
}

type rawSelectorList struct {
	Selectors []json.RawMessage `json:"selectors"`
}

func decodeSelectors(content string) ([]string, error) {
	var raw rawSelectorList
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode selectors: %w", err)
	}

	selectors := make([]string, 0, maxSelectors)
	seen := make(map[string]struct{})

	for _, item := range raw.Selectors {
		selector, score := decodeSelectorItem(item)

		selector = strings.TrimSpace(selector)
		if selector == "" || score < minSelectorScore {
			continue
		}

		if _, ok := seen[selector]; ok {
			continue
		}

		seen[selector] = struct{}{}
		selectors = append(selectors, selector)

		if len(selectors) == maxSelectors {
			break
		}
	}

	return selectors, nil
}

// decodeSelectorItem accepts both response shapes: a bare selector string
// and a {selector, confidence} object.
func decodeSelectorItem(data json.RawMessage) (string, float64) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, 1
	}

	var obj struct {
		Selector   string     `json:"selector"`
		Confidence *flexFloat `json:"confidence"`
	}

	if err := json.Unmarshal(data, &obj); err != nil {
		return "", 0
	}

	if obj.Confidence == nil {
		return obj.Selector, 1
	}

	return obj.Selector, float64(*obj.Confidence)
}

// extractJSON pulls the JSON object out of a response that may carry code
// fences or commentary around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// clipSummary cuts at the last sentence boundary inside the limit, falling
// back to a hard cut when the text has no usable boundary.
func clipSummary(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)[:limit]

	for i := len(runes) - 1; i > limit/2; i-- {
		switch runes[i] {
		case '.', '!', '?', '…':
			return string(runes[:i+1])
		}
	}

	return strings.TrimSpace(string(runes)) + "…"
}
