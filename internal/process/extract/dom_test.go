package extract

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCompressDOM(t *testing.T) {
	html := `<html><head><style>.a{color:red}</style></head><body>
		<script>var tracking = "beacon";</script>
		<div id="layout" class="page" data-reactid="7" onclick="track()">
			<article class="story-body">` + strings.Repeat("Очень длинный текст статьи, который обязан быть обрезан. ", 10) + `</article>
		</div>
	</body></html>`

	got := CompressDOM(html, 2000)

	if strings.Contains(got, "tracking") || strings.Contains(got, "color:red") {
		t.Errorf("script or style leaked into skeleton:\n%s", got)
	}

	if !strings.Contains(got, `class="story-body"`) || !strings.Contains(got, `id="layout"`) {
		t.Errorf("identifying attributes missing:\n%s", got)
	}

	if strings.Contains(got, "data-reactid") || strings.Contains(got, "onclick") {
		t.Errorf("noise attributes kept:\n%s", got)
	}

	if !strings.Contains(got, "…") {
		t.Error("long text node not clipped")
	}
}

func TestCompressDOM_Clamp(t *testing.T) {
	html := "<html><body>" + strings.Repeat(`<div class="row">ячейка таблицы</div>`, 500) + "</body></html>"

	got := CompressDOM(html, 1000)

	// clipRunes appends an ellipsis after the cut
	if n := utf8.RuneCountInString(got); n > 1001 {
		t.Errorf("skeleton length = %d runes, want clamp near 1000", n)
	}
}

func TestReadMoreTarget(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "relative link resolved",
			html: `<html><body><p>Анонс.</p><a href="/news/42">Читать далее</a></body></html>`,
			want: "https://example.com/news/42",
		},
		{
			name: "phrase inside long anchor ignored",
			html: `<html><body><p><a href="/other">` + strings.Repeat("длинный текст ссылки ", 4) + `читать далее</a></p></body></html>`,
			want: "",
		},
		{
			name: "no link",
			html: `<html><body><p>Обычная заметка.</p></body></html>`,
			want: "",
		},
		{
			name: "fragment-only link skipped",
			html: `<html><body><a href="#more">Читать далее</a></body></html>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := pageFor(t, "https://example.com/list", tt.html)

			if got := readMoreTarget(page.doc, page.url); got != tt.want {
				t.Errorf("readMoreTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}
