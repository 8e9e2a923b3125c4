package telegraph

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCleanSummary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips read original link",
			input: `Краткое содержание новости. <a href="https://example.org/a">Читать оригинал</a>`,
			want:  "Краткое содержание новости.",
		},
		{
			name:  "strips formatting tags",
			input: "Компания <b>выросла</b> на 20%",
			want:  "Компания выросла на 20%",
		},
		{
			name:  "unescapes entities",
			input: "Прибыль &amp; убытки",
			want:  "Прибыль & убытки",
		},
		{
			name:  "collapses whitespace",
			input: "Первое   предложение.\n\n\n\nВторое.",
			want:  "Первое предложение.\n\nВторое.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSummary(tt.input); got != tt.want {
				t.Errorf("cleanSummary(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSourceLinks(t *testing.T) {
	links := []string{
		"https://www.example.org/one",
		"ftp://example.net/skip",
		"https://news.example.com/two",
		"https://example.io/three",
		"https://example.dev/over-limit",
	}

	nodes := sourceLinks(links)
	if len(nodes) != maxSourceLinks {
		t.Fatalf("sourceLinks() returned %d nodes, want %d", len(nodes), maxSourceLinks)
	}

	first, ok := nodes[0].(NodeElement)
	if !ok {
		t.Fatalf("node type = %T, want NodeElement", nodes[0])
	}

	if first.Tag != "a" || first.Attrs["href"] != "https://www.example.org/one" {
		t.Errorf("first link = %+v", first)
	}

	if len(first.Children) != 1 || first.Children[0] != "example.org" {
		t.Errorf("first link text = %v, want bare domain", first.Children)
	}

	data, err := json.Marshal(nodes)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if strings.Contains(string(data), "example.net") {
		t.Error("non-http link survived filtering")
	}
}

func TestArticleNodes_SkipsEmptyPieces(t *testing.T) {
	nodes := articleNodes(Article{Title: "  ", Summary: "Только текст", Links: nil})

	if len(nodes) != 1 {
		t.Fatalf("articleNodes() = %d nodes, want 1", len(nodes))
	}

	p, ok := nodes[0].(NodeElement)
	if !ok || p.Tag != "p" {
		t.Fatalf("node = %+v, want p element", nodes[0])
	}
}

func TestPaginate_SkipsEmptyCategories(t *testing.T) {
	chunks := paginate([]Category{
		{Name: "Пустая"},
		{Name: "Технологии", Articles: []Article{{Title: "Заметка", Summary: "Текст."}}},
	})

	if len(chunks) != 1 {
		t.Fatalf("paginate() = %d chunks, want 1", len(chunks))
	}

	if len(chunks[0].categories) != 1 || chunks[0].categories[0] != "Технологии" {
		t.Errorf("chunk categories = %v", chunks[0].categories)
	}
}

func TestPageTitles(t *testing.T) {
	base := pageTitle(testDate())
	if base != "Новости за 21.08.2025" {
		t.Errorf("pageTitle() = %q", base)
	}

	if got := partTitle(base, 2); got != "Новости за 21.08.2025 (часть 2)" {
		t.Errorf("partTitle() = %q", got)
	}
}
