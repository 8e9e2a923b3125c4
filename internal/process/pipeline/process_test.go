package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
	"github.com/lueurxax/newspipe/internal/process/extract"
	db "github.com/lueurxax/newspipe/internal/storage"
)

func unprocessedArticle(id int64) db.Article {
	return db.Article{
		ID:          id,
		SourceID:    1,
		SourceType:  domain.SourceTypeRSS,
		Title:       "Исходный заголовок",
		URL:         "https://example.org/story",
		Content:     "Развернутый текст новости, полученный из ленты вместе с анонсом. Описаны все детали события.",
		PublishedAt: time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC),
		FetchedAt:   time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestProcess_AnalyzesAndPersistsArticle(t *testing.T) {
	repo := newMockRepo()
	repo.unprocessed = []db.Article{unprocessedArticle(42)}

	ai := &fakeAI{analysis: defaultAnalysis()}
	mapper := &fakeMapper{result: []db.CategoryScore{{CategoryID: 2, Confidence: 0.9}}}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS}, &fakeExtractor{}, ai, mapper, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	upd, ok := repo.analyses[42]
	if !ok {
		t.Fatal("analysis not persisted")
	}

	if upd.Title != "Городской парк открыт" {
		t.Errorf("persisted title = %q", upd.Title)
	}

	if upd.Summary == "" || !upd.SummaryOK {
		t.Errorf("summary not accepted: %+v", upd)
	}

	if !upd.AdProcessed {
		t.Error("ad fields not marked processed")
	}

	if !reflect.DeepEqual(repo.categories[42], mapper.result) {
		t.Errorf("categories = %+v, want %+v", repo.categories[42], mapper.result)
	}

	if !repo.catDone[42] {
		t.Error("category processing not marked")
	}

	if len(mapper.calls) != 1 || !reflect.DeepEqual(mapper.calls[0], ai.analysis.Categories) {
		t.Errorf("mapper saw %+v, want analysis categories", mapper.calls)
	}

	if len(repo.contentUpdates) != 0 {
		t.Errorf("unexpected content updates: %+v", repo.contentUpdates)
	}

	if len(repo.stats) != 1 {
		t.Fatalf("recorded %d stat entries, want 1", len(repo.stats))
	}

	if got := repo.stats[0]; got.ArticlesProcessed != 1 || got.APICallsMade != 1 || got.ErrorsCount != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestProcess_ExtractsTeaserBody(t *testing.T) {
	pageDate := time.Date(2025, 8, 19, 8, 30, 0, 0, time.UTC)
	pageContent := "Полный текст статьи со страницы издания. Здесь намного больше подробностей, чем в анонсе из ленты."

	article := unprocessedArticle(42)
	article.Title = ""
	article.Content = "Краткий анонс."

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	ex := &fakeExtractor{pages: map[string]*extract.Extraction{
		article.URL: {
			Content:     pageContent,
			Title:       "Заголовок со страницы",
			PublishedAt: &pageDate,
			Media:       []htmlutils.Media{{URL: "https://example.org/cover.jpg", Type: htmlutils.MediaImage}},
		},
	}}

	ai := &fakeAI{analysis: defaultAnalysis()}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS, needsBody: true}, ex, ai, &fakeMapper{}, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	updates := repo.contentUpdates[42]
	if len(updates) != 1 {
		t.Fatalf("recorded %d content updates, want 1", len(updates))
	}

	got := updates[0]
	if got.content != pageContent {
		t.Errorf("stored content = %q", got.content)
	}

	if got.imageURL != "https://example.org/cover.jpg" {
		t.Errorf("stored image = %q", got.imageURL)
	}

	if len(got.media) == 0 {
		t.Error("extracted media not stored")
	}

	if got.publishedAt == nil || !got.publishedAt.Equal(pageDate) {
		t.Errorf("stored published_at = %v, want %v", got.publishedAt, pageDate)
	}

	if len(ai.bodies) != 1 || ai.bodies[0] != pageContent {
		t.Errorf("analysis saw %q, want extracted content", ai.bodies)
	}

	if _, ok := repo.analyses[42]; !ok {
		t.Error("analysis not persisted after extraction")
	}
}

func TestProcess_QualityFailureSkipsAnalysis(t *testing.T) {
	article := unprocessedArticle(42)

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	ex := &fakeExtractor{errs: map[string]error{article.URL: extract.ErrQualityFail}}
	ai := &fakeAI{analysis: defaultAnalysis()}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS, needsBody: true}, ex, ai, &fakeMapper{}, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	if len(ai.analyzed) != 0 {
		t.Errorf("analysis ran %d times despite failed extraction", len(ai.analyzed))
	}

	if len(repo.analyses) != 0 {
		t.Errorf("unexpected persisted analyses: %+v", repo.analyses)
	}

	if repo.stats[0].ErrorsCount != 0 {
		t.Errorf("quality failure counted as error: %+v", repo.stats[0])
	}
}

func TestProcess_BlockedPageFallsBackToFeedContent(t *testing.T) {
	article := unprocessedArticle(42)

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	ex := &fakeExtractor{errs: map[string]error{article.URL: &extract.BlockedError{Status: 403}}}
	ai := &fakeAI{analysis: defaultAnalysis()}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS, needsBody: true}, ex, ai, &fakeMapper{}, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	if len(ai.bodies) != 1 || ai.bodies[0] != article.Content {
		t.Errorf("analysis saw %q, want feed content", ai.bodies)
	}

	if _, ok := repo.analyses[42]; !ok {
		t.Error("analysis not persisted for blocked page")
	}
}

func TestProcess_AnalysisFailureStoresFallbackSummary(t *testing.T) {
	article := unprocessedArticle(42)
	article.Content = strings.Repeat("Новости дня. ", 50)
	article.IsAdvertisement = true
	article.AdConfidence = 0.7
	article.AdType = "direct"
	article.AdProcessed = true

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	ai := &fakeAI{analysis: defaultAnalysis(), analyzeErr: errors.New("model overloaded")}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS}, &fakeExtractor{}, ai, &fakeMapper{}, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	upd, ok := repo.analyses[42]
	if !ok {
		t.Fatal("fallback summary not stored")
	}

	if !strings.Contains(upd.Summary, "Читать оригинал") {
		t.Errorf("fallback summary = %q", upd.Summary)
	}

	if upd.SummaryOK {
		t.Error("fallback summary marked as accepted")
	}

	if !upd.IsAdvertisement || upd.AdConfidence != 0.7 || !upd.AdProcessed {
		t.Errorf("stored ad fields lost on fallback: %+v", upd)
	}

	if len(repo.catDone) != 0 {
		t.Error("failed article marked category processed")
	}

	if got := repo.stats[0]; got.ArticlesProcessed != 0 || got.ErrorsCount == 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestProcess_KeepsAcceptedSummary(t *testing.T) {
	article := unprocessedArticle(42)
	article.Summary = "Принятое ранее резюме."
	article.SummaryProcessed = true

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	ai := &fakeAI{analysis: defaultAnalysis()}
	mapper := &fakeMapper{result: []db.CategoryScore{{CategoryID: 3, Confidence: 0.8}}}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS}, &fakeExtractor{}, ai, mapper, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	upd, ok := repo.analyses[42]
	if !ok {
		t.Fatal("analysis not persisted")
	}

	if upd.Summary != "" || upd.SummaryOK {
		t.Errorf("accepted summary overwritten: %+v", upd)
	}

	if !repo.catDone[42] {
		t.Error("categories not assigned for summary-complete article")
	}
}

func TestProcess_RestoresPublicationDate(t *testing.T) {
	clamp := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	realDate := time.Date(2025, 8, 18, 9, 0, 0, 0, time.UTC)

	article := unprocessedArticle(42)
	article.PublishedAt = clamp
	article.FetchedAt = clamp

	analysis := defaultAnalysis()
	analysis.PublicationDate = &realDate

	repo := newMockRepo()
	repo.unprocessed = []db.Article{article}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS}, &fakeExtractor{}, &fakeAI{analysis: analysis}, &fakeMapper{}, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	updates := repo.contentUpdates[42]
	if len(updates) != 1 {
		t.Fatalf("recorded %d content updates, want 1", len(updates))
	}

	got := updates[0]
	if got.publishedAt == nil || !got.publishedAt.Equal(realDate) {
		t.Errorf("restored published_at = %v, want %v", got.publishedAt, realDate)
	}

	if got.imageURL != "" || got.media != nil {
		t.Errorf("date restore touched image or media: %+v", got)
	}
}

func TestProcess_CategoryFailureLeavesRetryable(t *testing.T) {
	repo := newMockRepo()
	repo.unprocessed = []db.Article{unprocessedArticle(42)}

	mapper := &fakeMapper{err: errors.New("taxonomy unavailable")}

	p := newTestPipeline(t, repo, &fakeAdapter{kind: domain.SourceTypeRSS}, &fakeExtractor{}, &fakeAI{analysis: defaultAnalysis()}, mapper, nil)

	if err := p.RunProcessing(context.Background()); err != nil {
		t.Fatalf("RunProcessing() error = %v", err)
	}

	if _, ok := repo.analyses[42]; !ok {
		t.Error("analysis lost when categorization failed")
	}

	if repo.catDone[42] {
		t.Error("article marked category processed after mapper failure")
	}

	if got := repo.stats[0]; got.ArticlesProcessed != 0 || got.ErrorsCount == 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestFallbackSummary(t *testing.T) {
	article := &db.Article{
		URL:     "https://example.org/a?x=1&y=2",
		Content: strings.Repeat("а", 600),
	}

	got := fallbackSummary(article)

	if !strings.HasPrefix(got, strings.Repeat("а", 500)+"...") {
		t.Errorf("teaser not clipped at 500 runes: %d bytes", len(got))
	}

	if strings.Contains(got, strings.Repeat("а", 501)) {
		t.Error("teaser kept more than 500 runes")
	}

	if !strings.Contains(got, `<a href="https://example.org/a?x=1&amp;y=2">Читать оригинал</a>`) {
		t.Errorf("source link missing or unescaped: %q", got)
	}
}

func TestFallbackSummary_UsesTitleWhenBodyEmpty(t *testing.T) {
	article := &db.Article{
		URL:   "https://example.org/b",
		Title: "Только заголовок",
	}

	got := fallbackSummary(article)

	if !strings.HasPrefix(got, "Только заголовок") {
		t.Errorf("teaser = %q, want title prefix", got)
	}
}
