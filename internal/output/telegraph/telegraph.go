// Package telegraph publishes the full daily article listing as telegra.ph
// pages through the createPage API.
package telegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.telegra.ph"
	defaultTimeout = 30 * time.Second
)

var errAPIError = errors.New("telegraph api error")

// Node is one element of Telegraph page content: either a plain string or
// a NodeElement. Text is carried as JSON strings, so no HTML escaping.
type Node any

// NodeElement is a tagged Telegraph DOM node.
type NodeElement struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// Config carries the Telegraph account settings.
type Config struct {
	AccessToken string
	AuthorName  string
	AuthorURL   string
	Timeout     time.Duration
}

// Client is a minimal createPage API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	authorName string
	authorURL  string
	logger     *zerolog.Logger
}

// NewClient creates a Telegraph client for the given account.
func NewClient(cfg Config, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		token:      cfg.AccessToken,
		authorName: cfg.AuthorName,
		authorURL:  cfg.AuthorURL,
		logger:     logger,
	}
}

type createPageRequest struct {
	AccessToken string `json:"access_token"`
	Title       string `json:"title"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorURL   string `json:"author_url,omitempty"`
	Content     []Node `json:"content"`
}

type createPageResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result struct {
		Path string `json:"path"`
		URL  string `json:"url"`
	} `json:"result"`
}

// CreatePage creates one page and returns its canonical URL.
func (c *Client) CreatePage(ctx context.Context, title string, content []Node) (string, error) {
	payload, err := json.Marshal(createPageRequest{
		AccessToken: c.token,
		Title:       title,
		AuthorName:  c.authorName,
		AuthorURL:   c.authorURL,
		Content:     content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal createPage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createPage", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create createPage request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("createPage request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errAPIError, resp.StatusCode)
	}

	var parsed createPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode createPage response: %w", err)
	}

	if !parsed.OK {
		return "", fmt.Errorf("%w: %s", errAPIError, parsed.Error)
	}

	if parsed.Result.URL == "" {
		return "", fmt.Errorf("%w: response carries no url", errAPIError)
	}

	return parsed.Result.URL, nil
}
