package htmlutils

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedSubtrees are element subtrees whose text is never article content.
var skippedSubtrees = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Aside:    true,
	atom.Figure:   true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Form:     true,
}

// blockElements produce a line break when their subtree ends.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Tr: true, atom.Section: true, atom.Article: true,
}

// VisibleText extracts the human-visible text from an HTML fragment.
// Script, style, navigation, aside, and figure subtrees are dropped; text
// inside emphasis elements (strong, em, a) stays inline with its context.
func VisibleText(htmlSrc string) string {
	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return ""
	}

	var sb strings.Builder

	collectVisibleText(root, &sb)

	return CollapseWhitespace(sb.String())
}

// NodeText extracts visible text from an already-parsed node subtree.
func NodeText(node *html.Node) string {
	if node == nil {
		return ""
	}

	var sb strings.Builder

	collectVisibleText(node, &sb)

	return CollapseWhitespace(sb.String())
}

func collectVisibleText(node *html.Node, sb *strings.Builder) {
	if node.Type == html.ElementNode && skippedSubtrees[node.DataAtom] {
		return
	}

	if node.Type == html.TextNode {
		sb.WriteString(node.Data)
		return
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectVisibleText(child, sb)
	}

	if node.Type == html.ElementNode && blockElements[node.DataAtom] {
		sb.WriteByte('\n')
	}
}

// CollapseWhitespace trims the text and collapses runs of spaces and tabs,
// keeping at most one blank line between paragraphs.
func CollapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}

		out = append(out, line)
	}

	return strings.Trim(strings.Join(out, "\n"), "\n ")
}
