package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const (
	// contentByteLimit keeps the marshaled content of one page under the
	// API's 64 KB cap with headroom for the request envelope.
	contentByteLimit = 60000

	// maxSourceLinks caps the per-article source link list.
	maxSourceLinks = 3
)

// ErrEmptyListing is returned when there are no articles to publish.
var ErrEmptyListing = errors.New("empty listing")

// readOriginalLink matches the teaser link appended to fallback summaries;
// it reads as noise on a page that already lists the sources.
var readOriginalLink = regexp.MustCompile(`<a href="[^"]*">Читать оригинал</a>`)

// Article is one listing entry.
type Article struct {
	Title   string
	Summary string
	Links   []string
}

// Category groups listing entries under one heading.
type Category struct {
	Name     string
	Articles []Article
}

// pageChunk is the content of one page plus the category names it holds.
type pageChunk struct {
	nodes      []Node
	categories []string
}

// PublishListing renders the date's articles onto one or more pages and
// returns the URL of the first. Content over the byte budget is split at
// category boundaries into numbered pages, the first carrying a table of
// contents linking the rest.
func (c *Client) PublishListing(ctx context.Context, date time.Time, categories []Category) (string, error) {
	chunks := paginate(categories)
	if len(chunks) == 0 {
		return "", ErrEmptyListing
	}

	title := pageTitle(date)

	if len(chunks) == 1 {
		return c.CreatePage(ctx, title, chunks[0].nodes)
	}

	// Continuation pages go out first so the lead page can link to them.
	urls := make([]string, len(chunks))

	for i := len(chunks) - 1; i >= 1; i-- {
		url, err := c.CreatePage(ctx, partTitle(title, i+1), chunks[i].nodes)
		if err != nil {
			return "", fmt.Errorf("create listing page %d: %w", i+1, err)
		}

		urls[i] = url
	}

	lead := append(tocNodes(chunks, urls), chunks[0].nodes...)

	url, err := c.CreatePage(ctx, title, lead)
	if err != nil {
		return "", fmt.Errorf("create listing page 1: %w", err)
	}

	c.logger.Info().Int("pages", len(chunks)).Str("url", url).Msg("telegraph listing published")

	return url, nil
}

func pageTitle(date time.Time) string {
	return "Новости за " + date.Format("02.01.2006")
}

func partTitle(base string, part int) string {
	return fmt.Sprintf("%s (часть %d)", base, part)
}

// paginate packs category blocks into page chunks under the byte budget.
// Categories are never split; one category larger than the budget still
// gets its own page.
func paginate(categories []Category) []pageChunk {
	var (
		chunks  []pageChunk
		current pageChunk
		used    int
	)

	for _, cat := range categories {
		if len(cat.Articles) == 0 {
			continue
		}

		nodes := categoryNodes(cat, len(current.nodes) > 0)
		size := nodesSize(nodes)

		if len(current.nodes) > 0 && used+size > contentByteLimit {
			chunks = append(chunks, current)
			current = pageChunk{}
			used = 0
			nodes = categoryNodes(cat, false)
			size = nodesSize(nodes)
		}

		current.nodes = append(current.nodes, nodes...)
		current.categories = append(current.categories, cat.Name)
		used += size
	}

	if len(current.nodes) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

func categoryNodes(cat Category, withRule bool) []Node {
	nodes := make([]Node, 0, len(cat.Articles)*3+2)

	if withRule {
		nodes = append(nodes, NodeElement{Tag: "hr"})
	}

	nodes = append(nodes, NodeElement{Tag: "h3", Children: []Node{cat.Name}})

	for _, art := range cat.Articles {
		nodes = append(nodes, articleNodes(art)...)
	}

	return nodes
}

func articleNodes(art Article) []Node {
	nodes := make([]Node, 0, 3)

	if title := strings.TrimSpace(art.Title); title != "" {
		nodes = append(nodes, NodeElement{Tag: "h4", Children: []Node{title}})
	}

	if summary := cleanSummary(art.Summary); summary != "" {
		nodes = append(nodes, NodeElement{Tag: "p", Children: []Node{summary}})
	}

	if links := sourceLinks(art.Links); len(links) > 0 {
		children := make([]Node, 0, len(links)*2+1)
		children = append(children, "Источники: ")

		for i, link := range links {
			if i > 0 {
				children = append(children, " | ")
			}

			children = append(children, link)
		}

		nodes = append(nodes, NodeElement{Tag: "p", Children: children})
	}

	return nodes
}

func sourceLinks(links []string) []Node {
	out := make([]Node, 0, maxSourceLinks)

	for _, link := range links {
		if len(out) == maxSourceLinks {
			break
		}

		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}

		domain := htmlutils.Domain(link)
		if domain == "" {
			continue
		}

		out = append(out, NodeElement{
			Tag:      "a",
			Attrs:    map[string]string{"href": link},
			Children: []Node{domain},
		})
	}

	return out
}

// cleanSummary reduces a stored summary to plain text for a page node.
func cleanSummary(summary string) string {
	text := readOriginalLink.ReplaceAllString(summary, "")
	text = htmlutils.StripHTMLTags(text)

	return htmlutils.CollapseWhitespace(text)
}

func tocNodes(chunks []pageChunk, urls []string) []Node {
	items := make([]Node, 0, len(chunks)-1)

	for i := 1; i < len(chunks); i++ {
		label := fmt.Sprintf("Часть %d: %s", i+1, strings.Join(chunks[i].categories, ", "))
		items = append(items, NodeElement{
			Tag: "li",
			Children: []Node{NodeElement{
				Tag:      "a",
				Attrs:    map[string]string{"href": urls[i]},
				Children: []Node{label},
			}},
		})
	}

	return []Node{
		NodeElement{Tag: "h4", Children: []Node{"Содержание"}},
		NodeElement{Tag: "ul", Children: items},
		NodeElement{Tag: "hr"},
	}
}

func nodesSize(nodes []Node) int {
	data, err := json.Marshal(nodes)
	if err != nil {
		return 0
	}

	return len(data)
}
