package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

// structuredData is everything a page declares about itself: JSON-LD article
// fields, the articleBody microdata and Open Graph tags. Open Graph never
// contributes content, only title and description.
type structuredData struct {
	body          string
	headline      string
	published     *time.Time
	microBody     string
	ogTitle       string
	ogDescription string
}

var ldArticleTypes = map[string]bool{
	"NewsArticle": true,
	"Article":     true,
	"BlogPosting": true,
}

func parseStructured(doc *goquery.Document) *structuredData {
	sd := &structuredData{}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return
		}

		for _, item := range ldItems(payload) {
			applyLDArticle(sd, item)
		}
	})

	var parts []string

	doc.Find(`[itemprop="articleBody"]`).Each(func(_ int, sel *goquery.Selection) {
		if text := htmlutils.NodeText(sel.Nodes[0]); text != "" {
			parts = append(parts, text)
		}
	})

	sd.microBody = strings.Join(parts, "\n\n")
	sd.ogTitle = metaContent(doc, "og:title")
	sd.ogDescription = metaContent(doc, "og:description")

	return sd
}

// structuredBody returns the page's declared article body: JSON-LD first,
// then the articleBody microdata.
func structuredBody(page *pageContext) string {
	sd := page.structured()
	if sd.body != "" {
		return sd.body
	}

	return sd.microBody
}

// ldItems flattens a decoded JSON-LD payload: top-level arrays, single
// objects and @graph containers all yield their item maps.
func ldItems(payload any) []map[string]any {
	var items []map[string]any

	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			items = append(items, ldItems(item)...)
		}
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				items = append(items, ldItems(item)...)
			}
		}

		items = append(items, v)
	}

	return items
}

func applyLDArticle(sd *structuredData, item map[string]any) {
	if !ldArticleTypes[ldType(item)] {
		return
	}

	if sd.body == "" {
		if body, ok := item["articleBody"].(string); ok {
			sd.body = cleanStructuredText(body)
		}
	}

	if sd.headline == "" {
		if headline, ok := item["headline"].(string); ok {
			sd.headline = strings.TrimSpace(headline)
		}
	}

	if sd.published == nil {
		if date, ok := item["datePublished"].(string); ok {
			sd.published = parseWhen(date)
		}
	}
}

// ldType returns the first @type value; schema.org allows both a string and
// a list.
func ldType(item map[string]any) string {
	switch v := item["@type"].(type) {
	case string:
		return v
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				return s
			}
		}
	}

	return ""
}

// cleanStructuredText strips markup that some CMSes leave inside JSON-LD
// article bodies.
func cleanStructuredText(s string) string {
	if strings.Contains(s, "<") {
		return htmlutils.VisibleText(s)
	}

	return htmlutils.CollapseWhitespace(s)
}

// metaContent reads a meta tag by property or name.
func metaContent(doc *goquery.Document, key string) string {
	for _, selector := range []string{
		fmt.Sprintf(`meta[property=%q]`, key),
		fmt.Sprintf(`meta[name=%q]`, key),
	} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if trimmed := strings.TrimSpace(content); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}

func docTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func headingText(doc *goquery.Document) string {
	h1 := doc.Find("h1").First()
	if h1.Length() == 0 {
		return ""
	}

	return htmlutils.NodeText(h1.Nodes[0])
}
