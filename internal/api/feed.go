package api

import (
	"net/http"
	"strings"
	"time"

	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 100
	maxSinceHours    = 168
)

type articleItem struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Summary      string    `json:"summary,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	SourceID     int64     `json:"source_id"`
	PublishedAt  time.Time `json:"published_at"`
	FetchedAt    time.Time `json:"fetched_at"`
	IsAd         bool      `json:"is_advertisement"`
	AdType       string    `json:"ad_type,omitempty"`
	AdConfidence float32   `json:"ad_confidence,omitempty"`
}

type articleListResponse struct {
	Articles []articleItem `json:"articles"`
	Count    int           `json:"count"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := db.FeedFilter{
		Category:   q.Get("category"),
		Limit:      clampInt(queryInt(q, "limit", defaultFeedLimit), 1, maxFeedLimit),
		Offset:     nonNegative(queryInt(q, "offset", 0)),
		SinceHours: clampInt(queryInt(q, "since_hours", 0), 0, maxSinceHours),
		HideAds:    queryBool(q, "hide_ads"),
	}

	articles, err := s.store.GetFeed(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load feed")
		s.respondError(w, http.StatusInternalServerError, "failed to load feed")

		return
	}

	s.respondJSON(w, http.StatusOK, articleListResponse{
		Articles: toArticleItems(articles),
		Count:    len(articles),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	queryText := strings.TrimSpace(q.Get("q"))
	if queryText == "" {
		s.respondError(w, http.StatusBadRequest, "query parameter q is required")

		return
	}

	sortOrder := q.Get("sort")
	if sortOrder == "" {
		sortOrder = db.SearchSortRelevance
	}

	if sortOrder != db.SearchSortRelevance && sortOrder != db.SearchSortDate {
		s.respondError(w, http.StatusBadRequest, "sort must be relevance or date")

		return
	}

	filter := db.SearchFilter{
		Query:      queryText,
		Category:   q.Get("category"),
		SinceHours: clampInt(queryInt(q, "since_hours", 0), 0, maxSinceHours),
		Sort:       sortOrder,
		Limit:      clampInt(queryInt(q, "limit", defaultFeedLimit), 1, maxFeedLimit),
		Offset:     nonNegative(queryInt(q, "offset", 0)),
	}

	articles, err := s.store.SearchArticles(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Str("query", queryText).Msg("Search failed")
		s.respondError(w, http.StatusInternalServerError, "search failed")

		return
	}

	s.respondJSON(w, http.StatusOK, articleListResponse{
		Articles: toArticleItems(articles),
		Count:    len(articles),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

type categoryItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	ArticleCount int    `json:"article_count"`
}

type categoryListResponse struct {
	Categories []categoryItem `json:"categories"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategoriesWithCounts(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load categories")
		s.respondError(w, http.StatusInternalServerError, "failed to load categories")

		return
	}

	items := make([]categoryItem, 0, len(categories))
	for _, c := range categories {
		items = append(items, categoryItem{
			ID:           c.ID,
			Name:         c.Name,
			DisplayName:  c.DisplayName,
			Description:  c.Description,
			Color:        c.Color,
			ArticleCount: c.ArticleCount,
		})
	}

	s.respondJSON(w, http.StatusOK, categoryListResponse{Categories: items})
}

func toArticleItems(articles []db.Article) []articleItem {
	items := make([]articleItem, 0, len(articles))

	for _, a := range articles {
		items = append(items, articleItem{
			ID:           a.ID,
			Title:        a.Title,
			URL:          a.URL,
			Summary:      a.Summary,
			ImageURL:     a.ImageURL,
			SourceID:     a.SourceID,
			PublishedAt:  a.PublishedAt,
			FetchedAt:    a.FetchedAt,
			IsAd:         a.IsAdvertisement,
			AdType:       a.AdType,
			AdConfidence: a.AdConfidence,
		})
	}

	return items
}
