package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type createCall struct {
	title   string
	content string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []createCall
	fail  string
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title   string          `json:"title"`
			Content json.RawMessage `json:"content"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.calls = append(f.calls, createCall{title: req.Title, content: string(req.Content)})
		n := len(f.calls)
		fail := f.fail
		f.mu.Unlock()

		if fail != "" {
			fmt.Fprintf(w, `{"ok":false,"error":%q}`, fail)
			return
		}

		fmt.Fprintf(w, `{"ok":true,"result":{"path":"page-%d","url":"https://telegra.ph/page-%d"}}`, n, n)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, func()) {
	t.Helper()

	ts := httptest.NewServer(api.handler())
	logger := zerolog.Nop()

	c := NewClient(Config{AccessToken: "token", AuthorName: "newspipe"}, &logger)
	c.baseURL = ts.URL

	return c, ts.Close
}

func testDate() time.Time {
	return time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC)
}

func TestCreatePage_ReturnsURL(t *testing.T) {
	api := &fakeAPI{}
	c, done := newTestClient(t, api)
	defer done()

	url, err := c.CreatePage(context.Background(), "Новости за 21.08.2025", []Node{
		NodeElement{Tag: "p", Children: []Node{"Короткая заметка"}},
	})
	if err != nil {
		t.Fatalf("CreatePage() error = %v", err)
	}

	if url != "https://telegra.ph/page-1" {
		t.Errorf("CreatePage() url = %q", url)
	}

	if len(api.calls) != 1 || api.calls[0].title != "Новости за 21.08.2025" {
		t.Errorf("recorded calls = %+v", api.calls)
	}
}

func TestCreatePage_APIError(t *testing.T) {
	api := &fakeAPI{fail: "CONTENT_TOO_BIG"}
	c, done := newTestClient(t, api)
	defer done()

	_, err := c.CreatePage(context.Background(), "t", []Node{NodeElement{Tag: "p"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !strings.Contains(err.Error(), "CONTENT_TOO_BIG") {
		t.Errorf("error = %v, want api error text", err)
	}
}

func TestCreatePage_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	logger := zerolog.Nop()
	c := NewClient(Config{AccessToken: "token"}, &logger)
	c.baseURL = ts.URL

	_, err := c.CreatePage(context.Background(), "t", []Node{NodeElement{Tag: "p"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestPublishListing_SinglePage(t *testing.T) {
	api := &fakeAPI{}
	c, done := newTestClient(t, api)
	defer done()

	categories := []Category{
		{Name: "Технологии", Articles: []Article{
			{Title: "Новый процессор", Summary: "Представлен новый чип.", Links: []string{"https://example.org/cpu"}},
		}},
		{Name: "Бизнес", Articles: []Article{
			{Title: "Сделка года", Summary: "Компании объединились.", Links: []string{"https://news.example.com/deal"}},
		}},
	}

	url, err := c.PublishListing(context.Background(), testDate(), categories)
	if err != nil {
		t.Fatalf("PublishListing() error = %v", err)
	}

	if url != "https://telegra.ph/page-1" {
		t.Errorf("PublishListing() url = %q", url)
	}

	if len(api.calls) != 1 {
		t.Fatalf("created %d pages, want 1", len(api.calls))
	}

	call := api.calls[0]
	if call.title != "Новости за 21.08.2025" {
		t.Errorf("page title = %q", call.title)
	}

	for _, want := range []string{"Технологии", "Бизнес", "Новый процессор", "example.org", `{"tag":"hr"}`, "Источники: "} {
		if !strings.Contains(call.content, want) {
			t.Errorf("page content missing %q", want)
		}
	}

	if strings.Contains(call.content, "Содержание") {
		t.Error("single page should not carry a table of contents")
	}
}

func TestPublishListing_SplitsWithTOC(t *testing.T) {
	api := &fakeAPI{}
	c, done := newTestClient(t, api)
	defer done()

	filler := strings.Repeat("длинное содержание статьи для переполнения страницы ", 700)
	categories := []Category{
		{Name: "Технологии", Articles: []Article{{Title: "Статья первая", Summary: filler}}},
		{Name: "Бизнес", Articles: []Article{{Title: "Статья вторая", Summary: filler}}},
		{Name: "Наука", Articles: []Article{{Title: "Статья третья", Summary: filler}}},
	}

	url, err := c.PublishListing(context.Background(), testDate(), categories)
	if err != nil {
		t.Fatalf("PublishListing() error = %v", err)
	}

	if len(api.calls) != 3 {
		t.Fatalf("created %d pages, want 3", len(api.calls))
	}

	// Continuation pages are created before the lead page.
	if api.calls[0].title != "Новости за 21.08.2025 (часть 3)" {
		t.Errorf("first call title = %q", api.calls[0].title)
	}

	if api.calls[1].title != "Новости за 21.08.2025 (часть 2)" {
		t.Errorf("second call title = %q", api.calls[1].title)
	}

	lead := api.calls[2]
	if lead.title != "Новости за 21.08.2025" {
		t.Errorf("lead title = %q", lead.title)
	}

	if url != "https://telegra.ph/page-3" {
		t.Errorf("returned url = %q, want the lead page", url)
	}

	for _, want := range []string{"Содержание", "https://telegra.ph/page-1", "https://telegra.ph/page-2", "Часть 2: Бизнес", "Статья первая"} {
		if !strings.Contains(lead.content, want) {
			t.Errorf("lead content missing %q", want)
		}
	}

	if strings.Contains(lead.content, "Статья вторая") {
		t.Error("lead page should not carry continuation articles")
	}
}

func TestPublishListing_EmptyListing(t *testing.T) {
	api := &fakeAPI{}
	c, done := newTestClient(t, api)
	defer done()

	_, err := c.PublishListing(context.Background(), testDate(), []Category{{Name: "Пустая"}})
	if err == nil || !strings.Contains(err.Error(), "empty listing") {
		t.Fatalf("error = %v, want empty listing", err)
	}

	if len(api.calls) != 0 {
		t.Errorf("created %d pages, want none", len(api.calls))
	}
}
