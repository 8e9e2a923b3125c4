package htmlutils

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Media file types attached to articles.
const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaDocument = "document"
)

// Media is one harvested media reference, ordered as found in the document.
type Media struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// trackingPixelMaxSide is the largest dimension still treated as a tracking pixel.
const trackingPixelMaxSide = 3

// adNetworkHosts are domains whose images are ads or beacons, never content.
var adNetworkHosts = map[string]bool{
	"doubleclick.net":       true,
	"googlesyndication.com": true,
	"googleadservices.com":  true,
	"adservice.google.com":  true,
	"amazon-adsystem.com":   true,
	"adfox.ru":              true,
	"an.yandex.ru":          true,
	"criteo.com":            true,
	"scorecardresearch.com": true,
	"quantserve.com":        true,
	"facebook.com/tr":       true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".zip": true,
}

// HarvestMedia collects media references from an HTML fragment in document
// order, deduplicated by URL. Tracking pixels and known ad-network hosts are
// skipped. Relative URLs are resolved against base.
func HarvestMedia(htmlSrc, base string) []Media {
	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)

	var out []Media

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if m, ok := mediaFromNode(node, base); ok && !seen[m.URL] {
				seen[m.URL] = true
				out = append(out, m)
			}
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return out
}

func mediaFromNode(node *html.Node, base string) (Media, bool) {
	switch node.DataAtom {
	case atom.Img:
		return imageFromNode(node, base)
	case atom.Video:
		return videoFromNode(node, base)
	case atom.Source:
		if node.Parent != nil && node.Parent.DataAtom == atom.Video {
			if src := resolveAttr(node, "src", base); src != "" {
				return Media{URL: src, Type: MediaVideo}, true
			}
		}
	case atom.A:
		if href := resolveAttr(node, "href", base); href != "" && isDocumentLink(href) {
			return Media{URL: href, Type: MediaDocument}, true
		}
	}

	return Media{}, false
}

func imageFromNode(node *html.Node, base string) (Media, bool) {
	src := resolveAttr(node, "src", base)
	if src == "" || isTrackingPixel(node) || isAdNetworkURL(src) {
		return Media{}, false
	}

	return Media{URL: src, Type: MediaImage}, true
}

func videoFromNode(node *html.Node, base string) (Media, bool) {
	src := resolveAttr(node, "src", base)
	if src == "" {
		// Source URL may live on a nested <source> element instead.
		return Media{}, false
	}

	return Media{
		URL:       src,
		Type:      MediaVideo,
		Thumbnail: resolveAttr(node, "poster", base),
	}, true
}

func resolveAttr(node *html.Node, name, base string) string {
	val := strings.TrimSpace(attrValue(node, name))
	if val == "" || strings.HasPrefix(strings.ToLower(val), "data:") {
		return ""
	}

	if base != "" {
		if resolved, err := ResolveURL(base, val); err == nil {
			return resolved
		}
	}

	return val
}

func attrValue(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}

	return ""
}

func isTrackingPixel(node *html.Node) bool {
	width, hasWidth := dimensionAttr(node, "width")
	height, hasHeight := dimensionAttr(node, "height")

	if hasWidth && width <= trackingPixelMaxSide {
		return true
	}

	if hasHeight && height <= trackingPixelMaxSide {
		return true
	}

	return false
}

func dimensionAttr(node *html.Node, name string) (int, bool) {
	raw := strings.TrimSuffix(strings.TrimSpace(attrValue(node, name)), "px")
	if raw == "" {
		return 0, false
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return val, true
}

func isAdNetworkURL(raw string) bool {
	domain := Domain(raw)
	if domain == "" {
		return false
	}

	for host := range adNetworkHosts {
		if domain == host || strings.HasSuffix(domain, "."+host) {
			return true
		}
	}

	return false
}

func isDocumentLink(href string) bool {
	lower := strings.ToLower(href)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}

	for ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}
