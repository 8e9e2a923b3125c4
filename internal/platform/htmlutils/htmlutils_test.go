package htmlutils

import (
	"strings"
	"testing"
)

func TestStripSectionMarkers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no markers",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "strip start marker",
			input:    SectionStart + "Content",
			expected: "Content",
		},
		{
			name:     "strip end marker",
			input:    "Content" + SectionEnd,
			expected: "Content",
		},
		{
			name:     "multiple sections",
			input:    SectionStart + "Business" + SectionEnd + "\n" + SectionStart + "Tech" + SectionEnd,
			expected: "Business\nTech",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripSectionMarkers(tt.input)
			if got != tt.expected {
				t.Errorf("StripSectionMarkers() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "valid tags",
			input:    "<b>Bold</b> <i>Italic</i>",
			expected: "<b>Bold</b> <i>Italic</i>",
		},
		{
			name:     "unsupported tags",
			input:    "<h1>Title</h1><p>Para</p>",
			expected: "TitlePara",
		},
		{
			name:     "mixed tags",
			input:    "<b>Bold</b> and <script>alert(1)</script>",
			expected: "<b>Bold</b> and alert(1)",
		},
		{
			name:     "escapes special characters",
			input:    "Apple & Google > Microsoft < Amazon",
			expected: "Apple &amp; Google &gt; Microsoft &lt; Amazon",
		},
		{
			name:     "closes unclosed tags",
			input:    "<b>Bold",
			expected: "<b>Bold</b>",
		},
		{
			name:     "drops orphan closing tag",
			input:    "Text</b>",
			expected: "Text",
		},
		{
			name:     "keeps safe href only",
			input:    `<a href="https://x.test/a" onclick="x()">link</a>`,
			expected: `<a href="https://x.test/a">link</a>`,
		},
		{
			name:     "strips javascript href",
			input:    `<a href="javascript:alert(1)">link</a>`,
			expected: `<a>link</a>`,
		},
		{
			name:     "strips attributes from formatting tags",
			input:    `<b class="x">Bold</b>`,
			expected: `<b>Bold</b>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeHTML(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeHTML() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF16Len(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "ascii", input: "hello", want: 5},
		{name: "cyrillic", input: "привет", want: 6},
		{name: "emoji surrogate pair", input: "🔥", want: 2},
		{name: "mixed", input: "a🔥b", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UTF16Len(tt.input); got != tt.want {
				t.Errorf("UTF16Len(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitHTML_FitsInOnePart(t *testing.T) {
	parts := SplitHTML("short message", 4096)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
}

func TestSplitHTML_RespectsLimit(t *testing.T) {
	text := strings.Repeat("Новости дня. ", 400)

	parts := SplitHTML(text, 500)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}

	for i, p := range parts {
		if UTF16Len(StripHTMLTags(p)) > 500 {
			t.Errorf("part %d text exceeds limit: %d units", i, UTF16Len(StripHTMLTags(p)))
		}
	}
}

func TestSplitHTML_ReopensTags(t *testing.T) {
	text := "<b>" + strings.Repeat("слово ", 300) + "</b>"

	parts := SplitHTML(text, 400)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}

	for i, p := range parts {
		if !strings.HasSuffix(p, "</b>") {
			t.Errorf("part %d does not close bold tag: %q", i, p[len(p)-20:])
		}
	}

	for i, p := range parts[1:] {
		if !strings.HasPrefix(p, "<b>") {
			t.Errorf("continuation part %d does not reopen bold tag", i+1)
		}
	}
}

func TestSplitHTML_PrefersParagraphBoundary(t *testing.T) {
	para := strings.Repeat("слово ", 50)
	text := para + "\n\n" + para + "\n\n" + para

	parts := SplitHTML(text, 400)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}

	first := parts[0]
	if strings.HasSuffix(strings.TrimRight(first, "\n"), "сло") {
		t.Errorf("first part ends mid-word: %q", first[len(first)-15:])
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "lowercases host", input: "https://News.Test/Path", want: "https://news.test/Path"},
		{name: "strips fragment", input: "https://x.test/a#section", want: "https://x.test/a"},
		{name: "strips default port", input: "https://x.test:443/a", want: "https://x.test/a"},
		{name: "keeps custom port", input: "https://x.test:8443/a", want: "https://x.test:8443/a"},
		{name: "keeps query order", input: "https://x.test/a?b=2&a=1", want: "https://x.test/a?b=2&a=1"},
		{name: "relative url rejected", input: "/just/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}

				return
			}

			if err != nil {
				t.Fatalf("CanonicalURL(%q) error: %v", tt.input, err)
			}

			if got != tt.want {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalKey_SortsQuery(t *testing.T) {
	a, err := CanonicalKey("https://x.test/a?b=2&a=1")
	if err != nil {
		t.Fatal(err)
	}

	b, err := CanonicalKey("https://x.test/a?a=1&b=2")
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

func TestResolveURL(t *testing.T) {
	got, err := ResolveURL("https://news.test/articles/1", "/img/photo.jpg")
	if err != nil {
		t.Fatal(err)
	}

	if got != "https://news.test/img/photo.jpg" {
		t.Errorf("ResolveURL = %q", got)
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "https://www.News.Test/a", want: "news.test"},
		{input: "https://sub.news.test:8080/a", want: "sub.news.test"},
		{input: "not a url at all ://", want: ""},
	}

	for _, tt := range tests {
		if got := Domain(tt.input); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestVisibleText(t *testing.T) {
	src := `<html><body>
		<nav>Menu Home About</nav>
		<article><p>First <strong>important</strong> paragraph.</p>
		<script>var x = 1;</script>
		<p>Second paragraph with <a href="/x">a link</a>.</p></article>
		<aside>Related articles</aside>
	</body></html>`

	got := VisibleText(src)

	if strings.Contains(got, "Menu Home") {
		t.Errorf("nav content leaked into visible text: %q", got)
	}

	if strings.Contains(got, "var x") {
		t.Errorf("script content leaked into visible text: %q", got)
	}

	if strings.Contains(got, "Related articles") {
		t.Errorf("aside content leaked into visible text: %q", got)
	}

	if !strings.Contains(got, "First important paragraph.") {
		t.Errorf("emphasis text not inline: %q", got)
	}

	if !strings.Contains(got, "Second paragraph with a link.") {
		t.Errorf("anchor text not inline: %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := CollapseWhitespace("  a   b \n\n\n\n c\t d  ")
	want := "a b\n\nc d"

	if got != want {
		t.Errorf("CollapseWhitespace = %q, want %q", got, want)
	}
}

func TestHarvestMedia(t *testing.T) {
	src := `<article>
		<img src="/img/one.jpg" width="640">
		<img src="https://an.yandex.ru/pixel.gif">
		<img src="/img/pixel.gif" width="1" height="1">
		<video src="/video/clip.mp4" poster="/img/poster.jpg"></video>
		<img src="/img/one.jpg">
		<a href="/files/report.pdf">report</a>
	</article>`

	media := HarvestMedia(src, "https://news.test/articles/1")

	if len(media) != 3 {
		t.Fatalf("expected 3 media items, got %d: %+v", len(media), media)
	}

	if media[0].URL != "https://news.test/img/one.jpg" || media[0].Type != MediaImage {
		t.Errorf("unexpected first media: %+v", media[0])
	}

	if media[1].Type != MediaVideo || media[1].Thumbnail != "https://news.test/img/poster.jpg" {
		t.Errorf("unexpected video media: %+v", media[1])
	}

	if media[2].Type != MediaDocument || !strings.HasSuffix(media[2].URL, "report.pdf") {
		t.Errorf("unexpected document media: %+v", media[2])
	}
}
