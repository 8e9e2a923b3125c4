package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/platform/config"
)

type reply struct {
	status int
	body   string
}

// providerRecorder captures every request body the fake provider receives.
type providerRecorder struct {
	mu      sync.Mutex
	prompts []string
}

func (r *providerRecorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	r.prompts = append(r.prompts, string(body))
	r.mu.Unlock()
}

func (r *providerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.prompts)
}

func (r *providerRecorder) prompt(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i >= len(r.prompts) {
		return ""
	}

	return r.prompts[i]
}

// serveReplies answers request n with replies[n], repeating the last reply
// once the script runs out.
func serveReplies(t *testing.T, rec *providerRecorder, replies []reply) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.record(req)

		rep := replies[min(rec.count()-1, len(replies)-1)]

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.status)
		_, _ = w.Write([]byte(rep.body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func chatBody(t *testing.T, content string) string {
	t.Helper()

	b, err := json.Marshal(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49},
	})
	if err != nil {
		t.Fatalf("marshal chat body: %v", err)
	}

	return string(b)
}

func errorBody(message, errType string) string {
	return fmt.Sprintf(`{"error": {"message": %q, "type": %q}}`, message, errType)
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		GeminiAPIKey:        "test-key",
		GeminiAPIEndpoint:   endpoint,
		RPS:                 100,
		SummarizationModel:  "gemini-test",
		CategorizationModel: "gemini-test",
		DigestModel:         "gemini-test",
		LLMMaxRetries:       0,
		CacheTTL:            time.Hour,
		NewsCategories:      []string{"Tech", "Business", "Other"},
		DefaultCategory:     "Other",
		MaxCategories:       3,
	}
}

func newTestClient(t *testing.T, endpoint string, retries int) *openaiClient {
	t.Helper()

	cfg := testConfig(endpoint)
	cfg.LLMMaxRetries = retries

	logger := zerolog.Nop()
	c := newOpenAI(cfg, &logger)
	t.Cleanup(c.cache.close)

	return c
}

const goodAnalysis = `{
	"optimized_title": "Метро расширяется",
	"categories": ["Tech", "", "Business"],
	"category_confidences": [1.4, 0.2, "0.55"],
	"summary": "Город открыл новую станцию. Поезда пошли утром.",
	"is_advertisement": "false",
	"ad_type": "",
	"ad_confidence": -0.2,
	"ad_reasoning": "",
	"ad_markers": [],
	"publication_date": "2026-08-24T10:00:00Z",
	"content_quality": 0.9
}`

const minimalAnalysis = `{"optimized_title": "Коротко", "categories": ["Other"], "summary": "Станция открыта."}`

var longBody = strings.Repeat("Новость дня про открытие станции. ", 10)

func TestAnalyzeArticle_CoercesLooseResponse(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, goodAnalysis)}})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("AnalyzeArticle() error = %v", err)
	}

	if rec.count() != 1 {
		t.Errorf("provider calls = %d, want 1", rec.count())
	}

	if got.OptimizedTitle != "Метро расширяется" {
		t.Errorf("OptimizedTitle = %q", got.OptimizedTitle)
	}

	want := []CategoryScore{{Name: "Tech", Confidence: 1}, {Name: "Business", Confidence: 0.55}}
	if len(got.Categories) != len(want) {
		t.Fatalf("Categories = %v, want %v", got.Categories, want)
	}

	for i, cs := range want {
		if got.Categories[i] != cs {
			t.Errorf("Categories[%d] = %v, want %v", i, got.Categories[i], cs)
		}
	}

	if got.IsAdvertisement {
		t.Error("IsAdvertisement = true, want false")
	}

	if got.AdConfidence != 0 {
		t.Errorf("AdConfidence = %v, want 0 after clamping", got.AdConfidence)
	}

	if got.AdType != "news_article" {
		t.Errorf("AdType = %q, want news_article default", got.AdType)
	}

	if got.ContentQuality != 0.9 {
		t.Errorf("ContentQuality = %v, want 0.9", got.ContentQuality)
	}

	wantDate := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if got.PublicationDate == nil || !got.PublicationDate.Equal(wantDate) {
		t.Errorf("PublicationDate = %v, want %v", got.PublicationDate, wantDate)
	}
}

func TestAnalyzeArticle_DefaultsForMissingOptionalFields(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, minimalAnalysis)}})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("AnalyzeArticle() error = %v", err)
	}

	if got.ContentQuality != 0.7 {
		t.Errorf("ContentQuality = %v, want 0.7 default", got.ContentQuality)
	}

	if len(got.Categories) != 1 || got.Categories[0].Confidence != 0.5 {
		t.Errorf("Categories = %v, want one entry with default confidence 0.5", got.Categories)
	}

	if got.PublicationDate != nil {
		t.Errorf("PublicationDate = %v, want nil", got.PublicationDate)
	}
}

func TestAnalyzeArticle_CacheAvoidsSecondCall(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, minimalAnalysis)}})
	c := newTestClient(t, srv.URL, 0)

	first, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("first AnalyzeArticle() error = %v", err)
	}

	second, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("second AnalyzeArticle() error = %v", err)
	}

	if rec.count() != 1 {
		t.Errorf("provider calls = %d, want 1", rec.count())
	}

	if first != second {
		t.Error("cached call returned a different result")
	}
}

func TestAnalyzeArticle_ShortBodySkipsProvider(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, minimalAnalysis)}})
	c := newTestClient(t, srv.URL, 0)

	_, err := c.AnalyzeArticle(context.Background(), "Заголовок", "мало текста", "https://example.com/a")
	if !errors.Is(err, ErrBodyTooShort) {
		t.Errorf("error = %v, want ErrBodyTooShort", err)
	}

	if rec.count() != 0 {
		t.Errorf("provider calls = %d, want 0", rec.count())
	}
}

func TestAnalyzeArticle_StrictRetryOnMissingSummary(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{
		{http.StatusOK, chatBody(t, `{"optimized_title": "T", "categories": ["Tech"], "summary": ""}`)},
		{http.StatusOK, chatBody(t, minimalAnalysis)},
	})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("AnalyzeArticle() error = %v", err)
	}

	if got.Summary != "Станция открыта." {
		t.Errorf("Summary = %q", got.Summary)
	}

	if rec.count() != 2 {
		t.Fatalf("provider calls = %d, want 2", rec.count())
	}

	if strings.Contains(rec.prompt(0), "STRICT MODE") {
		t.Error("first prompt already in strict mode")
	}

	if !strings.Contains(rec.prompt(1), "STRICT MODE") {
		t.Error("retry prompt missing the strict suffix")
	}
}

func TestAnalyzeArticle_ParseFailureConsumesAttempt(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{
		{http.StatusOK, chatBody(t, "sorry, no JSON today")},
		{http.StatusOK, chatBody(t, minimalAnalysis)},
	})
	c := newTestClient(t, srv.URL, 1)

	got, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err != nil {
		t.Fatalf("AnalyzeArticle() error = %v", err)
	}

	if got.Summary == "" {
		t.Error("Summary is empty after retry")
	}

	if rec.count() != 2 {
		t.Errorf("provider calls = %d, want 2", rec.count())
	}
}

func TestAnalyzeArticle_ExhaustionReturnsError(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, "still not JSON")}})
	c := newTestClient(t, srv.URL, 0)

	_, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if err == nil {
		t.Fatal("expected an error after retry exhaustion")
	}

	if rec.count() != 1 {
		t.Errorf("provider calls = %d, want 1", rec.count())
	}
}

func TestAnalyzeArticle_RateLimitedSetsPause(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{
		{http.StatusTooManyRequests, errorBody("Rate limit exceeded. Please try again in 1s.", "rate_limit_error")},
	})
	c := newTestClient(t, srv.URL, 0)

	_, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}

	c.mu.Lock()
	wait := time.Until(c.pausedUntil)
	c.mu.Unlock()

	if wait <= 0 || wait > 2*time.Second {
		t.Errorf("pause = %v, want about 1s from the provider hint", wait)
	}
}

func TestAnalyzeArticle_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusInternalServerError, errorBody("internal", "server_error")}})
	c := newTestClient(t, srv.URL, 0)

	for i := 0; i < circuitBreakerThreshold; i++ {
		_, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
		if err == nil {
			t.Fatalf("call %d: expected an error", i)
		}

		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: circuit opened early", i)
		}
	}

	_, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}

	if rec.count() != circuitBreakerThreshold {
		t.Errorf("provider calls = %d, want %d", rec.count(), circuitBreakerThreshold)
	}
}

func TestAnalyzeArticle_ServerErrorIsTyped(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusBadRequest, errorBody("bad request", "invalid_request_error")}})
	c := newTestClient(t, srv.URL, 2)

	_, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com/a")

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ProviderError", err)
	}

	if pe.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", pe.StatusCode)
	}

	// 4xx is not retryable, so the first failure is final.
	if rec.count() != 1 {
		t.Errorf("provider calls = %d, want 1", rec.count())
	}
}

func TestExtractSelectors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name: "mixed forms with dedupe and threshold",
			content: `{"selectors": [
				{"selector": ".article-body", "confidence": 0.9},
				"main",
				{"selector": ".ads", "confidence": 0.1},
				{"selector": ".article-body", "confidence": 0.8},
				{"selector": "", "confidence": 0.9}
			]}`,
			want: []string{".article-body", "main"},
		},
		{
			name: "caps at five selectors",
			content: `{"selectors": ["a1", "a2", "a3", "a4", "a5", "a6", "a7"]}`,
			want: []string{"a1", "a2", "a3", "a4", "a5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &providerRecorder{}
			srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, tt.content)}})
			c := newTestClient(t, srv.URL, 0)

			got, err := c.ExtractSelectors(context.Background(), "<main><div class=article-body>", "example.com")
			if err != nil {
				t.Fatalf("ExtractSelectors() error = %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}

			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("selector[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractSelectors_StrictRetryWhenEmpty(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{
		{http.StatusOK, chatBody(t, `{"selectors": []}`)},
		{http.StatusOK, chatBody(t, `{"selectors": ["article"]}`)},
	})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.ExtractSelectors(context.Background(), "<article>", "example.com")
	if err != nil {
		t.Fatalf("ExtractSelectors() error = %v", err)
	}

	if len(got) != 1 || got[0] != "article" {
		t.Errorf("got %v, want [article]", got)
	}

	if !strings.Contains(rec.prompt(1), "STRICT MODE") {
		t.Error("retry prompt missing the strict suffix")
	}
}

func TestExtractSelectors_EmptyDOM(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, `{"selectors": ["article"]}`)}})
	c := newTestClient(t, srv.URL, 0)

	if _, err := c.ExtractSelectors(context.Background(), "   ", "example.com"); err == nil {
		t.Error("expected an error for an empty page structure")
	}

	if rec.count() != 0 {
		t.Errorf("provider calls = %d, want 0", rec.count())
	}
}

func TestCategorySummary_ClipsAtSentenceBoundary(t *testing.T) {
	long := strings.Repeat("Первая часть обзора дня. ", 60)

	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, long)}})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.CategorySummary(context.Background(), "Tech", []string{"новость один", "новость два"})
	if err != nil {
		t.Fatalf("CategorySummary() error = %v", err)
	}

	if n := utf8.RuneCountInString(got); n > categorySummaryLimit {
		t.Errorf("summary length = %d runes, want <= %d", n, categorySummaryLimit)
	}

	if !strings.HasSuffix(got, ".") {
		t.Errorf("summary does not end at a sentence boundary: %q", got)
	}
}

func TestCategorySummary_EmptyBriefsSkipsProvider(t *testing.T) {
	rec := &providerRecorder{}
	srv := serveReplies(t, rec, []reply{{http.StatusOK, chatBody(t, "обзор")}})
	c := newTestClient(t, srv.URL, 0)

	got, err := c.CategorySummary(context.Background(), "Tech", nil)
	if err != nil {
		t.Fatalf("CategorySummary() error = %v", err)
	}

	if got != "" {
		t.Errorf("summary = %q, want empty", got)
	}

	if rec.count() != 0 {
		t.Errorf("provider calls = %d, want 0", rec.count())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want time.Duration
	}{
		{"seconds", "Rate limit exceeded. Please try again in 20s.", 20 * time.Second},
		{"fractional seconds", "Please retry in 26.33s", 26330 * time.Millisecond},
		{"milliseconds", "Please try again in 348ms.", 348 * time.Millisecond},
		{"minutes", "Rate limit reached, retry in 1.5m", 90 * time.Second},
		{"capped", "Please try again in 600s.", maxRetryAfter},
		{"no hint", "Rate limit exceeded.", defaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.msg); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestExtractJSONFromResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding prose", `Here you go: {"a": 1} hope it helps`, `{"a": 1}`},
		{"no object", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClipSummary(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short passes through", "Короткий обзор.", 850, "Короткий обзор."},
		{"cuts at sentence end", "Первое предложение. Второе предложение. Хвост без конца", 45, "Первое предложение. Второе предложение."},
		{"hard cut with ellipsis", strings.Repeat("а", 30), 10, "аааааааааа…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clipSummary(tt.in, tt.limit); got != tt.want {
				t.Errorf("clipSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_MockWithoutKey(t *testing.T) {
	logger := zerolog.Nop()

	for _, key := range []string{"", "mock"} {
		cfg := testConfig("http://unused")
		cfg.GeminiAPIKey = key

		if _, ok := New(cfg, &logger).(*mockClient); !ok {
			t.Errorf("New() with key %q did not return the mock client", key)
		}
	}
}

func TestMockClient(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig("http://unused")
	cfg.GeminiAPIKey = "mock"
	c := New(cfg, &logger)

	if _, err := c.AnalyzeArticle(context.Background(), "Заголовок", "коротко", "https://example.com"); !errors.Is(err, ErrBodyTooShort) {
		t.Errorf("short body error = %v, want ErrBodyTooShort", err)
	}

	got, err := c.AnalyzeArticle(context.Background(), "Заголовок", longBody, "https://example.com")
	if err != nil {
		t.Fatalf("AnalyzeArticle() error = %v", err)
	}

	if len(got.Categories) != 1 || got.Categories[0].Name != "Other" {
		t.Errorf("Categories = %v, want the default category", got.Categories)
	}

	if got.ContentQuality != 0.7 {
		t.Errorf("ContentQuality = %v, want 0.7", got.ContentQuality)
	}

	selectors, err := c.ExtractSelectors(context.Background(), "<article>", "example.com")
	if err != nil {
		t.Fatalf("ExtractSelectors() error = %v", err)
	}

	if len(selectors) == 0 {
		t.Error("mock returned no selectors")
	}

	summary, err := c.CategorySummary(context.Background(), "Tech", []string{"один", "два"})
	if err != nil {
		t.Fatalf("CategorySummary() error = %v", err)
	}

	if summary == "" {
		t.Error("mock returned an empty summary")
	}
}
