package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prompt versions participate in cache keys, so bumping a version after a
// wording change invalidates every result produced by the old prompt.
const (
	analyzePromptVersion   = "v2"
	selectorsPromptVersion = "v1"
	summaryPromptVersion   = "v1"
)

const analyzePromptTemplate = `Analyze this article and return the complete analysis as one JSON object.

ARTICLE:
Title: %s
URL: %s
Content: %s

TASKS:
1. TITLE: produce "optimized_title", a clear informative headline, maximum 120 characters, same language as the content, without clickbait markers (BREAKING, ТОП-5 and similar). Keep the original title when it is already good.
2. CATEGORIES: first describe the content in your own words, then map it to the final list: %s. Use one or more categories when the content spans domains. Arrays "categories" and "category_confidences" MUST have the same length.
3. SUMMARY: "summary" is a detailed 5-6 sentence retelling in Russian, minimum 200 characters. Start directly with the main fact, preserve all key numbers, names and dates, avoid introductions like "статья рассказывает о...".
4. ADVERTISEMENT: decide whether the text promotes a product or service. Promotional markers: "купить", "заказать", "скидка", "акция", "промокод", "цена от". News reporting about deals, prices or statistics is not an advertisement. List the matched markers in "ad_markers".
5. DATE: extract the publication date if the text mentions one, ISO format.
6. QUALITY: estimate "content_quality" in [0, 1] for completeness and coherence of the extracted text.

OUTPUT FORMAT (JSON):
{
  "optimized_title": "Краткий информативный заголовок",
  "categories": ["Business"],
  "category_confidences": [0.95],
  "summary": "Подробный пересказ из 5-6 предложений...",
  "is_advertisement": false,
  "ad_type": "news_article",
  "ad_confidence": 0.1,
  "ad_reasoning": "Content reports facts without promotion",
  "ad_markers": [],
  "publication_date": "2026-01-15",
  "content_quality": 0.85
}

Return ONLY valid JSON without additional text.`

const analyzeStrictSuffix = `

STRICT MODE: the previous response was missing required fields. Return ONE valid JSON object with ALL fields from OUTPUT FORMAT. "summary" MUST be a non-empty string and "categories" MUST contain at least one category from the final list.`

const selectorsPromptTemplate = `You are analyzing the HTML structure of %s to find CSS selectors for the main article text.

COMPRESSED PAGE STRUCTURE:
%s

TASK: suggest up to 5 CSS selectors that reliably select the main article content on this domain.

RULES:
- Prefer stable semantic containers (article, main, [role="main"]) and content classes (.article-content, .post-content) over generated or positional selectors
- Selectors must match the article body, not navigation, comments or related-links blocks
- Order from most to least likely
- Every selector must be valid CSS

OUTPUT FORMAT (JSON):
{
  "selectors": [
    {"selector": ".article-content", "confidence": 0.9},
    {"selector": "article", "confidence": 0.7}
  ]
}

Return ONLY valid JSON without additional text.`

const selectorsStrictSuffix = `

STRICT MODE: the previous response contained no usable selectors. Return ONE valid JSON object with a non-empty "selectors" array exactly as in OUTPUT FORMAT.`

const summaryPromptTemplate = `Ты новостной аналитик. Создай обзор всех новостей категории %s за день.

Задача: охватить все значимые новости категории в едином связном тексте.
Лимит: максимум 850 символов, сводка будет объединена с другими категориями в общем дайджесте.

Требования:
- единый связный текст от главных событий к менее значимым
- связки между событиями: "На фоне этого", "В то же время", "Кроме того"
- живой журналистский язык без канцелярита

Не используй:
- списки и перечисления (•, 1., 2.)
- отдельные абзацы для каждой новости
- фразы вида "в категории произошло", "среди новостей дня"

Новости за день:
%s

Создай целостный обзор одним связным текстом:`

func (c *openaiClient) analyzePrompt(title, body, url string) string {
	return fmt.Sprintf(analyzePromptTemplate, title, url, clipRunes(body, maxPromptBodyRunes), strings.Join(c.cfg.NewsCategories, ", "))
}

func selectorsPrompt(compressedDOM, domain string) string {
	return fmt.Sprintf(selectorsPromptTemplate, domain, clipRunes(compressedDOM, maxPromptDOMRunes))
}

func summaryPrompt(category string, briefs []string) string {
	var sb strings.Builder
	for _, brief := range briefs {
		sb.WriteString("- ")
		sb.WriteString(clipRunes(strings.TrimSpace(brief), maxBriefRunes))
		sb.WriteString("\n")
	}

	return fmt.Sprintf(summaryPromptTemplate, category, sb.String())
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
