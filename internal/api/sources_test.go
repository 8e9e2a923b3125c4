package api

import (
	"net/http"
	"testing"

	"github.com/lueurxax/newspipe/internal/core/domain"
	db "github.com/lueurxax/newspipe/internal/storage"
)

func TestListSources_Public(t *testing.T) {
	store := &fakeStore{sources: []db.Source{
		{ID: 1, Name: "lenta", Type: domain.SourceTypeRSS, URL: "https://lenta.ru/rss", Enabled: true},
		{ID: 2, Name: "paused", Type: domain.SourceTypeRSS, URL: "https://example.org/rss", Enabled: false},
	}}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sources", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp sourceListResponse

	decodeBody(t, rec, &resp)

	if len(resp.Sources) != 2 || resp.Sources[0].Name != "lenta" {
		t.Errorf("sources = %+v", resp.Sources)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/sources?enabled_only=true", "", nil)

	decodeBody(t, rec, &resp)

	if len(resp.Sources) != 1 || resp.Sources[0].Name != "lenta" {
		t.Errorf("enabled sources = %+v", resp.Sources)
	}
}

func TestCreateSource_RequiresAuth(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources", "", createSourceRequest{
		Name: "lenta",
		Type: domain.SourceTypeRSS,
		URL:  "https://lenta.ru/rss",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateSource_CreatesRSS(t *testing.T) {
	store := &fakeStore{createID: 5}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources", adminToken(t, s), createSourceRequest{
		Name: "lenta",
		Type: domain.SourceTypeRSS,
		URL:  "https://lenta.ru/rss",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if store.created == nil || store.created.Name != "lenta" || !store.created.Enabled {
		t.Errorf("created = %+v", store.created)
	}

	var resp sourceItem

	decodeBody(t, rec, &resp)

	if resp.ID != 5 || resp.Type != domain.SourceTypeRSS {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateSource_Validation(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, nil)
	token := adminToken(t, s)

	tests := []struct {
		name string
		req  createSourceRequest
	}{
		{name: "missing name", req: createSourceRequest{Type: domain.SourceTypeRSS, URL: "https://x.org/rss"}},
		{name: "rss without url", req: createSourceRequest{Name: "x", Type: domain.SourceTypeRSS}},
		{name: "unknown type", req: createSourceRequest{Name: "x", Type: "scraper"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/sources", token, tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	if store.created != nil {
		t.Errorf("created = %+v, want none", store.created)
	}
}

func TestSourcePush_StoresCandidates(t *testing.T) {
	store := &fakeStore{
		sources:   []db.Source{{ID: 3, Name: "webhooks", Type: domain.SourceTypeGeneric, Enabled: true}},
		knownURLs: map[string]bool{"https://example.org/known": true},
	}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources/3/push", adminToken(t, s), pushRequest{
		Articles: []pushArticle{
			{Title: "Новая статья", URL: "https://example.org/new", Content: "Текст."},
			{Title: "Известная статья", URL: "https://example.org/known"},
			{Title: "", URL: "https://example.org/untitled"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp pushResponse

	decodeBody(t, rec, &resp)

	if resp.Accepted != 1 || resp.Duplicates != 1 || resp.Rejected != 1 {
		t.Errorf("response = %+v", resp)
	}

	if len(store.pushed) != 2 {
		t.Fatalf("stored %d articles, want 2", len(store.pushed))
	}

	if store.pushed[0].SourceID != 3 || store.pushed[0].FetchedAt.IsZero() {
		t.Errorf("stored article = %+v", store.pushed[0])
	}
}

func TestSourcePush_RejectsFetchingSources(t *testing.T) {
	store := &fakeStore{sources: []db.Source{{ID: 1, Name: "lenta", Type: domain.SourceTypeRSS, URL: "https://lenta.ru/rss"}}}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources/1/push", adminToken(t, s), pushRequest{
		Articles: []pushArticle{{Title: "x", URL: "https://example.org/x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSourcePush_UnknownSource(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources/42/push", adminToken(t, s), pushRequest{
		Articles: []pushArticle{{Title: "x", URL: "https://example.org/x"}},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSourcePush_EmptyList(t *testing.T) {
	store := &fakeStore{sources: []db.Source{{ID: 3, Type: domain.SourceTypeGeneric}}}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sources/3/push", adminToken(t, s), pushRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
