package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

const (
	compressedDOMRunes = 8000
	domTextClipRunes   = 80
)

// keptAttrs are the only attributes forwarded to the model; selectors are
// built from these, everything else is noise.
var keptAttrs = map[string]bool{
	"id":       true,
	"class":    true,
	"role":     true,
	"itemprop": true,
	"itemtype": true,
}

var skippedDOMSubtrees = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Link:     true,
	atom.Meta:     true,
}

var blockBoundary = map[atom.Atom]bool{
	atom.P:       true,
	atom.Div:     true,
	atom.Section: true,
	atom.Article: true,
	atom.Main:    true,
	atom.Header:  true,
	atom.Footer:  true,
	atom.Ul:      true,
	atom.Li:      true,
}

// CompressDOM reduces a page to the structural skeleton selector discovery
// needs: script and style subtrees dropped, attributes cut down to
// identifiers, text clipped to short hints, the whole thing clamped to
// maxRunes.
func CompressDOM(htmlSrc string, maxRunes int) string {
	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return ""
	}

	var sb strings.Builder

	writeSkeleton(findBody(root), &sb)

	return strings.TrimSpace(clipRunes(sb.String(), maxRunes))
}

func writeSkeleton(node *html.Node, sb *strings.Builder) {
	if node == nil {
		return
	}

	switch node.Type {
	case html.TextNode:
		if text := strings.Join(strings.Fields(node.Data), " "); text != "" {
			sb.WriteString(clipRunes(text, domTextClipRunes))
			sb.WriteByte(' ')
		}

		return
	case html.ElementNode:
		if skippedDOMSubtrees[node.DataAtom] {
			return
		}

		sb.WriteByte('<')
		sb.WriteString(node.Data)

		for _, attr := range node.Attr {
			if keptAttrs[attr.Key] && attr.Val != "" {
				fmt.Fprintf(sb, " %s=%q", attr.Key, attr.Val)
			}
		}

		sb.WriteByte('>')
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		writeSkeleton(child, sb)
	}

	if node.Type == html.ElementNode && blockBoundary[node.DataAtom] {
		sb.WriteByte('\n')
	}
}

func findBody(root *html.Node) *html.Node {
	var body *html.Node

	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if body != nil {
			return
		}

		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(root)

	if body == nil {
		return root
	}

	return body
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "…"
}

const readMoreAnchorMaxRunes = 40

var readMorePhrases = []string{
	"читать далее",
	"читать полностью",
	"продолжение",
	"подробнее",
	"read more",
	"continue reading",
	"full article",
	"read full",
}

// readMoreTarget finds a teaser's link to the full article. Only short
// anchor texts count, so the phrase appearing inside prose does not trigger
// a follow.
func readMoreTarget(doc *goquery.Document, baseURL string) string {
	var target string

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if text == "" || utf8.RuneCountInString(text) > readMoreAnchorMaxRunes {
			return true
		}

		if !matchesReadMore(text) {
			return true
		}

		resolved, err := htmlutils.ResolveURL(baseURL, sel.AttrOr("href", ""))
		if err != nil {
			return true
		}

		if i := strings.IndexByte(resolved, '#'); i >= 0 {
			resolved = resolved[:i]
		}

		if resolved == "" || resolved == baseURL || !strings.HasPrefix(resolved, "http") {
			return true
		}

		target = resolved

		return false
	})

	return target
}

func matchesReadMore(text string) bool {
	for _, phrase := range readMorePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}

	return false
}
