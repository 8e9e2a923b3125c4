package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lueurxax/newspipe/internal/core/domain"
	db "github.com/lueurxax/newspipe/internal/storage"
)

type sourceItem struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"source_type"`
	URL           string     `json:"url,omitempty"`
	Enabled       bool       `json:"enabled"`
	FetchInterval int        `json:"fetch_interval"`
	LastFetch     *time.Time `json:"last_fetch,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	ErrorCount    int        `json:"error_count"`
}

type sourceListResponse struct {
	Sources []sourceItem `json:"sources"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context(), queryBool(r.URL.Query(), "enabled_only"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sources")
		s.respondError(w, http.StatusInternalServerError, "failed to load sources")

		return
	}

	items := make([]sourceItem, 0, len(sources))
	for i := range sources {
		items = append(items, toSourceItem(&sources[i]))
	}

	s.respondJSON(w, http.StatusOK, sourceListResponse{Sources: items})
}

type createSourceRequest struct {
	Name          string          `json:"name"`
	Type          string          `json:"source_type"`
	URL           string          `json:"url"`
	Enabled       *bool           `json:"enabled"`
	Config        json.RawMessage `json:"config"`
	FetchInterval int             `json:"fetch_interval"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)

	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")

		return
	}

	switch req.Type {
	case domain.SourceTypeRSS, domain.SourceTypeTelegram:
		if req.URL == "" {
			s.respondError(w, http.StatusBadRequest, "url is required for "+req.Type+" sources")

			return
		}
	case domain.SourceTypeGeneric, domain.SourceTypeCustom:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown source type "+strconv.Quote(req.Type))

		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	src := &db.Source{
		Name:          req.Name,
		Type:          req.Type,
		URL:           req.URL,
		Enabled:       enabled,
		Config:        req.Config,
		FetchInterval: req.FetchInterval,
	}

	id, err := s.store.CreateSource(r.Context(), src)
	if err != nil {
		s.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to create source")
		s.respondError(w, http.StatusInternalServerError, "failed to create source")

		return
	}

	src.ID = id

	s.respondJSON(w, http.StatusCreated, toSourceItem(src))
}

type pushArticle struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Content     string     `json:"content"`
	ImageURL    string     `json:"image_url"`
	PublishedAt *time.Time `json:"published_at"`
}

type pushRequest struct {
	Articles []pushArticle `json:"articles"`
}

type pushResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// handleSourcePush accepts externally supplied candidate articles for a
// generic source. Rows enter unprocessed and flow through the regular
// summary and category stages; URL conflicts count as duplicates.
func (s *Server) handleSourcePush(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid source id")

		return
	}

	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrSourceNotFound) {
			s.respondError(w, http.StatusNotFound, "source not found")

			return
		}

		s.logger.Error().Err(err).Int64("source_id", id).Msg("Failed to load source")
		s.respondError(w, http.StatusInternalServerError, "failed to load source")

		return
	}

	if src.Type != domain.SourceTypeGeneric && src.Type != domain.SourceTypeCustom {
		s.respondError(w, http.StatusBadRequest, "source type "+strconv.Quote(src.Type)+" does not accept pushed articles")

		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if len(req.Articles) == 0 {
		s.respondError(w, http.StatusBadRequest, "articles list is empty")

		return
	}

	now := time.Now().UTC()

	var resp pushResponse

	for _, in := range req.Articles {
		if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.Title) == "" {
			resp.Rejected++

			continue
		}

		article := &db.Article{
			SourceID:  src.ID,
			Title:     in.Title,
			URL:       in.URL,
			Content:   in.Content,
			ImageURL:  in.ImageURL,
			FetchedAt: now,
		}

		if in.PublishedAt != nil {
			article.PublishedAt = *in.PublishedAt
		}

		_, inserted, err := s.store.UpsertArticle(r.Context(), article)
		if err != nil {
			s.logger.Error().Err(err).Str("url", in.URL).Msg("Failed to store pushed article")
			s.respondError(w, http.StatusInternalServerError, "failed to store pushed articles")

			return
		}

		if inserted {
			resp.Accepted++
		} else {
			resp.Duplicates++
		}
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func toSourceItem(src *db.Source) sourceItem {
	return sourceItem{
		ID:            src.ID,
		Name:          src.Name,
		Type:          src.Type,
		URL:           src.URL,
		Enabled:       src.Enabled,
		FetchInterval: src.FetchInterval,
		LastFetch:     src.LastFetch,
		LastSuccess:   src.LastSuccess,
		LastError:     src.LastError,
		ErrorCount:    src.ErrorCount,
	}
}
