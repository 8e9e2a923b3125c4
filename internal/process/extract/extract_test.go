package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/process/memory"
	db "github.com/lueurxax/newspipe/internal/storage"
)

type fakeStore struct {
	mu sync.Mutex

	patterns  []domain.ExtractionPattern
	saved     []domain.ExtractionPattern
	attempts  []domain.ExtractionAttempt
	stability *domain.DomainStability
	usages    []domain.AIUsage
	touched   int
}

func (s *fakeStore) GetPatternsForDomain(_ context.Context, _ string) ([]domain.ExtractionPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.ExtractionPattern(nil), s.patterns...), nil
}

func (s *fakeStore) SavePattern(_ context.Context, p *domain.ExtractionPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = append(s.saved, *p)

	return nil
}

func (s *fakeStore) RecordExtractionOutcome(_ context.Context, attempt *domain.ExtractionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, *attempt)

	return nil
}

func (s *fakeStore) GetDomainStability(_ context.Context, _ string) (*domain.DomainStability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stability == nil {
		return nil, db.ErrStabilityNotFound
	}

	copied := *s.stability

	return &copied, nil
}

func (s *fakeStore) SetDomainStable(_ context.Context, _ string, _ bool, _ string) error {
	return nil
}

func (s *fakeStore) TouchAIAnalysis(_ context.Context, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touched++

	return nil
}

func (s *fakeStore) AddAICreditsSaved(_ context.Context, _ string, _ int) error {
	return nil
}

func (s *fakeStore) RecordAIUsage(_ context.Context, usage *domain.AIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usages = append(s.usages, *usage)

	return nil
}

func (s *fakeStore) CountAIAnalysesSince(_ context.Context, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.usages), nil
}

func (s *fakeStore) recorded() []domain.ExtractionAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.ExtractionAttempt(nil), s.attempts...)
}

func (s *fakeStore) savedPatterns() []domain.ExtractionPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.ExtractionPattern(nil), s.saved...)
}

func (s *fakeStore) aiUsages() []domain.AIUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.AIUsage(nil), s.usages...)
}

func (s *fakeStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touched
}

type fakePage struct {
	body   string
	status int
	err    error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, _ fetch.Options) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()

	page, ok := f.pages[rawURL]
	if !ok {
		return nil, &fetch.PermanentError{Status: http.StatusNotFound}
	}

	if page.err != nil {
		return nil, page.err
	}

	status := page.status
	if status == 0 {
		status = http.StatusOK
	}

	return &fetch.Result{Status: status, Body: []byte(page.body)}, nil
}

func (f *fakeFetcher) fetched(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, call := range f.calls {
		if call == rawURL {
			return true
		}
	}

	return false
}

type fakeRenderer struct {
	mu    sync.Mutex
	html  string
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _, _ string) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}

	return r.html, nil
}

type fakeAI struct {
	mu        sync.Mutex
	selectors []string
	err       error
	calls     int
}

func (a *fakeAI) AnalyzeArticle(_ context.Context, _, _, _ string) (*llm.UnifiedAnalysis, error) {
	return nil, errors.New("not used")
}

func (a *fakeAI) ExtractSelectors(_ context.Context, _, _ string) ([]string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}

	return a.selectors, nil
}

func (a *fakeAI) CategorySummary(_ context.Context, _ string, _ []string) (string, error) {
	return "", errors.New("not used")
}

type extractorDeps struct {
	store    *fakeStore
	fetcher  *fakeFetcher
	renderer *fakeRenderer
	ai       *fakeAI
	memory   *memory.Memory
}

func newTestExtractor(t *testing.T, deps *extractorDeps) *Extractor {
	t.Helper()

	cfg := &config.Config{
		MinContentLength:      200,
		MaxContentLength:      50000,
		AIDiscoveryDailyLimit: 25,
		RenderFirstMS:         10000,
		RenderBudgetMS:        45000,
		FetchUserAgent:        "newspipe-test",
	}

	logger := zerolog.Nop()
	deps.memory = memory.New(cfg, deps.store, &logger)

	var renderer Renderer
	if deps.renderer != nil {
		renderer = deps.renderer
	}

	var ai llm.Client
	if deps.ai != nil {
		ai = deps.ai
	}

	return New(cfg, deps.fetcher, renderer, deps.memory, ai, &logger)
}

func articleHTML(paragraphs int) string {
	var sb strings.Builder

	sb.WriteString(`<html><head><title>Заголовок дня</title>`)
	sb.WriteString(`<meta property="og:title" content="Запуск новой линии метро">`)
	sb.WriteString(`<meta property="article:published_time" content="2026-08-20T09:00:00Z">`)
	sb.WriteString(`</head><body><article class="entry-content">`)

	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&sb, "<p>Абзац номер %d рассказывает о запуске новой линии метро в деталях. Работы завершились раньше срока.</p>", i+1)
	}

	sb.WriteString(`</article></body></html>`)

	return sb.String()
}

func TestExtract_LearnedSelectorWins(t *testing.T) {
	html := `<html><head><title>Т</title></head><body>
		<div class="custom-slot">` + textOfRunes(t, 400) + `</div>
		<article>короткий тизер</article>
	</body></html>`

	store := &fakeStore{patterns: []domain.ExtractionPattern{{
		Domain:   "example.com",
		Selector: ".custom-slot",
		Strategy: domain.StrategyLearnedSelector,
	}}}
	deps := &extractorDeps{store: store, fetcher: &fakeFetcher{pages: map[string]fakePage{
		"https://example.com/a": {body: html},
	}}}

	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://example.com/a", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Strategy != domain.StrategyLearnedSelector || ext.Selector != ".custom-slot" {
		t.Errorf("strategy/selector = %s/%s, want learned_selector/.custom-slot", ext.Strategy, ext.Selector)
	}

	attempts := store.recorded()
	if len(attempts) != 1 {
		t.Fatalf("attempts recorded = %d, want 1 first-try success", len(attempts))
	}

	if att := attempts[0]; !att.Success || att.Strategy != domain.StrategyLearnedSelector {
		t.Errorf("attempt = %+v, want learned_selector success", att)
	}
}

func TestExtract_ReadabilityStrategy(t *testing.T) {
	deps := &extractorDeps{
		store: &fakeStore{},
		fetcher: &fakeFetcher{pages: map[string]fakePage{
			"https://example.com/metro": {body: articleHTML(6)},
		}},
	}

	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://example.com/metro", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Strategy != domain.StrategyReadability {
		t.Errorf("strategy = %s, want readability", ext.Strategy)
	}

	if ext.Title != "Запуск новой линии метро" {
		t.Errorf("title = %q, want og:title value", ext.Title)
	}

	if ext.PublishedAt == nil || ext.PublishedAt.Day() != 20 {
		t.Errorf("published = %v, want the article:published_time date", ext.PublishedAt)
	}

	if !strings.Contains(ext.Content, "запуске новой линии метро") {
		t.Errorf("content = %q", ext.Content)
	}
}

func TestExtract_StructuredDataBody(t *testing.T) {
	body := strings.Repeat("Космический аппарат вышел на расчётную орбиту и передал первые данные. ", 8)
	html := `<html><head>
		<script type="application/ld+json">{"@type":"NewsArticle","articleBody":"` + strings.TrimSpace(body) + `"}</script>
		</head><body><div>Загрузка</div></body></html>`

	deps := &extractorDeps{
		store:   &fakeStore{},
		fetcher: &fakeFetcher{pages: map[string]fakePage{"https://example.com/s": {body: html}}},
	}

	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://example.com/s", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Strategy != domain.StrategyStructured {
		t.Fatalf("strategy = %s, want structured", ext.Strategy)
	}

	var order []string
	for _, att := range deps.store.recorded() {
		order = append(order, fmt.Sprintf("%s:%v", att.Strategy, att.Success))
	}

	want := []string{
		domain.StrategyReadability + ":false",
		domain.StrategyStructured + ":true",
	}

	if len(order) != len(want) {
		t.Fatalf("attempts = %v, want %v", order, want)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Errorf("attempt[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPrioritizedText(t *testing.T) {
	html := `<html><body>
		<main>` + strings.Repeat("коротко ", 5) + `</main>
		<div class="article__text">` + textOfRunes(t, 500) + `</div>
	</body></html>`

	page := pageFor(t, "https://example.com/p", html)

	deps := &extractorDeps{store: &fakeStore{}, fetcher: &fakeFetcher{}}
	e := newTestExtractor(t, deps)

	text, selector := e.prioritizedText(page.doc)
	if selector != ".article__text" {
		t.Errorf("selector = %q, want .article__text", selector)
	}

	if got := utf8.RuneCountInString(text); got != 500 {
		t.Errorf("text length = %d runes, want 500", got)
	}
}

func TestExtract_HeadlessFallback(t *testing.T) {
	static := `<html><body><div id="app">Загрузка приложения</div></body></html>`

	deps := &extractorDeps{
		store:    &fakeStore{},
		fetcher:  &fakeFetcher{pages: map[string]fakePage{"https://spa.example.com/n": {body: static}}},
		renderer: &fakeRenderer{html: articleHTML(6)},
	}

	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://spa.example.com/n", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Strategy != domain.StrategyHeadless {
		t.Errorf("strategy = %s, want headless", ext.Strategy)
	}

	if deps.renderer.calls != 1 {
		t.Errorf("render calls = %d, want 1", deps.renderer.calls)
	}

	if ext.PublishedAt == nil {
		t.Error("published = nil, want date recovered from the rendered DOM")
	}

	if ext.Title != "Запуск новой линии метро" {
		t.Errorf("title = %q, want og:title from the rendered DOM", ext.Title)
	}
}

func TestExtract_RenderSkippedInBackoff(t *testing.T) {
	static := `<html><body><div id="app">Пусто</div></body></html>`

	deps := &extractorDeps{
		store:    &fakeStore{},
		fetcher:  &fakeFetcher{pages: map[string]fakePage{"https://spa.example.com/n": {body: static}}},
		renderer: &fakeRenderer{html: articleHTML(6)},
	}

	e := newTestExtractor(t, deps)
	deps.memory.RecordAllStrategiesFailed("spa.example.com")

	_, err := e.Extract(context.Background(), "https://spa.example.com/n", "")
	if !errors.Is(err, ErrQualityFail) {
		t.Fatalf("Extract() error = %v, want ErrQualityFail", err)
	}

	if deps.renderer.calls != 0 {
		t.Errorf("render calls = %d, want 0 during backoff", deps.renderer.calls)
	}
}

func TestTryAIDiscovery_ValidatesSelectors(t *testing.T) {
	html := `<html><body><div class="xyz-slot">` + textOfRunes(t, 700) + `</div></body></html>`

	deps := &extractorDeps{
		store:   &fakeStore{},
		fetcher: &fakeFetcher{},
		ai:      &fakeAI{selectors: []string{".does-not-exist", ".xyz-slot"}},
	}

	e := newTestExtractor(t, deps)
	page := pageFor(t, "https://odd.example.com/a", html)

	cand := e.tryAIDiscovery(context.Background(), page)
	if cand == nil {
		t.Fatal("tryAIDiscovery() = nil, want validated candidate")
	}

	if cand.strategy != domain.StrategyAIDiscovery || cand.selector != ".xyz-slot" {
		t.Errorf("candidate = %s/%s, want ai_discovery/.xyz-slot", cand.strategy, cand.selector)
	}

	saved := deps.store.savedPatterns()
	if len(saved) != 1 || saved[0].Selector != ".xyz-slot" || saved[0].DiscoveredBy != domain.DiscoveredByAI {
		t.Fatalf("saved patterns = %+v, want one ai-discovered .xyz-slot", saved)
	}

	if saved[0].Strategy != domain.StrategyLearnedSelector {
		t.Errorf("saved strategy = %s, want learned_selector", saved[0].Strategy)
	}

	var aiTriggered int
	for _, att := range deps.store.recorded() {
		if att.AITriggered {
			aiTriggered++
		}
	}

	if aiTriggered != 3 {
		t.Errorf("ai-triggered attempts = %d, want 3: two validations and the discovery summary", aiTriggered)
	}
}

func TestExtract_AIDiscoveryNothingValidates(t *testing.T) {
	html := `<html><body><div id="app">Заглушка приложения</div></body></html>`

	deps := &extractorDeps{
		store:   &fakeStore{},
		fetcher: &fakeFetcher{pages: map[string]fakePage{"https://spa2.example.com/x": {body: html}}},
		ai:      &fakeAI{selectors: []string{".missing"}},
	}

	e := newTestExtractor(t, deps)

	_, err := e.Extract(context.Background(), "https://spa2.example.com/x", "")
	if !errors.Is(err, ErrQualityFail) {
		t.Fatalf("Extract() error = %v, want ErrQualityFail", err)
	}

	if deps.ai.calls != 1 {
		t.Errorf("provider calls = %d, want 1", deps.ai.calls)
	}

	if deps.store.touchCount() != 1 {
		t.Errorf("cooldown touches = %d, want 1 even with zero validated selectors", deps.store.touchCount())
	}

	usages := deps.store.aiUsages()
	if len(usages) != 1 || usages[0].PatternsDiscovered != 0 {
		t.Errorf("usages = %+v, want one selector_discovery with zero patterns", usages)
	}
}

func TestExtract_ErrorMapping(t *testing.T) {
	deps := &extractorDeps{
		store: &fakeStore{},
		fetcher: &fakeFetcher{pages: map[string]fakePage{
			"https://example.com/gone":    {err: &fetch.PermanentError{Status: http.StatusGone}},
			"https://example.com/blocked": {err: &fetch.PermanentError{Status: http.StatusForbidden}},
			"https://example.com/slow":    {err: fmt.Errorf("%w: connect timeout", fetch.ErrTransient)},
			"https://example.com/empty":   {body: "   "},
		}},
	}

	e := newTestExtractor(t, deps)
	ctx := context.Background()

	if _, err := e.Extract(ctx, "https://example.com/gone", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("gone error = %v, want ErrNotFound", err)
	}

	var blocked *BlockedError
	if _, err := e.Extract(ctx, "https://example.com/blocked", ""); !errors.As(err, &blocked) || blocked.Status != http.StatusForbidden {
		t.Errorf("blocked error = %v, want BlockedError 403", err)
	}

	if _, err := e.Extract(ctx, "https://example.com/slow", ""); !errors.Is(err, ErrTimeout) {
		t.Errorf("transient error = %v, want ErrTimeout", err)
	}

	if _, err := e.Extract(ctx, "https://example.com/empty", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty error = %v, want ErrEmpty", err)
	}
}

func TestExtract_ReadMoreFollowKeepsLongerBody(t *testing.T) {
	teaser := `<html><head><title>Тизер</title></head><body>
		<article class="entry-content"><p>` + textOfRunes(t, 260) + `</p></article>
		<a href="/full/42">Читать далее</a>
	</body></html>`

	deps := &extractorDeps{
		store: &fakeStore{},
		fetcher: &fakeFetcher{pages: map[string]fakePage{
			"https://example.com/list":    {body: teaser},
			"https://example.com/full/42": {body: articleHTML(12)},
		}},
	}

	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://example.com/list", "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if n := utf8.RuneCountInString(ext.Content); n <= 260 {
		t.Errorf("content length = %d runes, want the longer followed body", n)
	}

	if !deps.fetcher.fetched("https://example.com/full/42") {
		t.Error("full article URL never fetched")
	}
}

func TestExtract_PrefetchedHTMLSkipsFetcher(t *testing.T) {
	deps := &extractorDeps{store: &fakeStore{}, fetcher: &fakeFetcher{pages: map[string]fakePage{}}}
	e := newTestExtractor(t, deps)

	ext, err := e.Extract(context.Background(), "https://example.com/pre", articleHTML(6))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(deps.fetcher.calls) != 0 {
		t.Errorf("fetcher calls = %v, want none with pre-supplied html", deps.fetcher.calls)
	}

	if ext.Content == "" {
		t.Error("empty content")
	}
}
