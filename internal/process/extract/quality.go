package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minLetterRatio   = 0.6
	minQualityScore  = 0.3
	longBodyRunes    = 1000
	minSentenceRunes = 20
)

// adMarkerPatterns flag sponsored and promotional boilerplate. Word
// boundaries keep short markers like erid from matching inside ordinary
// words.
var adMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berid\b`),
	regexp.MustCompile(`(?i)на правах рекламы`),
	regexp.MustCompile(`(?i)рекламный материал`),
	regexp.MustCompile(`(?i)партн[её]рский материал`),
	regexp.MustCompile(`(?i)промокод`),
	regexp.MustCompile(`(?i)подписывайтесь на (наш|канал)`),
	regexp.MustCompile(`(?i)sponsored (content|post)`),
	regexp.MustCompile(`(?i)\badvertisement\b`),
	regexp.MustCompile(`(?i)click here to`),
	regexp.MustCompile(`(?i)subscribe to our newsletter`),
}

// contentGate decides whether extracted text is a real article body. It
// returns the quality score and an empty reason on success, or the reason
// the content was rejected.
func contentGate(content string, minRunes int) (float64, string) {
	runes := utf8.RuneCountInString(content)
	if runes == 0 {
		return 0, "no content"
	}

	if runes < minRunes {
		return 0, fmt.Sprintf("%d chars below minimum %d", runes, minRunes)
	}

	if ratio := letterRatio(content); ratio < minLetterRatio {
		return 0, fmt.Sprintf("letter ratio %.2f below %.2f", ratio, minLetterRatio)
	}

	need := 2
	if runes > longBodyRunes {
		need = 3
	}

	if got := sentenceCount(content); got < need {
		return 0, fmt.Sprintf("fewer than %d sentences", need)
	}

	score := qualityScore(content)
	if score < minQualityScore {
		return score, fmt.Sprintf("quality score %.2f below %.2f", score, minQualityScore)
	}

	return score, ""
}

// qualityScore grades content on length, sentence structure, punctuation
// density and vocabulary variety, with a penalty per ad marker. Range 0..1.
func qualityScore(content string) float64 {
	runes := utf8.RuneCountInString(content)
	if runes == 0 {
		return 0
	}

	var score float64

	switch {
	case runes >= 200:
		score += 0.3
	case runes >= 100:
		score += 0.15
	}

	switch sentences := sentenceCount(content); {
	case sentences >= 3:
		score += 0.2
	case sentences >= 1:
		score += 0.1
	}

	if density := punctuationDensity(content, runes); density >= 0.005 && density <= 0.2 {
		score += 0.2
	}

	switch variety := wordVariety(content); {
	case variety >= 0.4:
		score += 0.2
	case variety >= 0.2:
		score += 0.1
	}

	score += 0.1 - 0.15*float64(adMarkerCount(content))

	return clamp01(score)
}

// letterRatio is the share of letters among non-space runes. Pages that
// extract into menus, timestamps and counters score low here.
func letterRatio(content string) float64 {
	letters, total := 0, 0

	for _, r := range content {
		if unicode.IsSpace(r) {
			continue
		}

		total++

		if unicode.IsLetter(r) {
			letters++
		}
	}

	if total == 0 {
		return 0
	}

	return float64(letters) / float64(total)
}

// sentenceCount counts terminated fragments long enough to be sentences
// rather than abbreviations or list markers.
func sentenceCount(content string) int {
	count, fragment := 0, 0

	for _, r := range content {
		switch r {
		case '.', '!', '?', '…':
			if fragment >= minSentenceRunes {
				count++
			}

			fragment = 0
		default:
			if !unicode.IsSpace(r) || fragment > 0 {
				fragment++
			}
		}
	}

	return count
}

func punctuationDensity(content string, runes int) float64 {
	marks := 0

	for _, r := range content {
		switch r {
		case '.', ',', '!', '?', ':', ';', '…':
			marks++
		}
	}

	return float64(marks) / float64(runes)
}

func wordVariety(content string) float64 {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}

	return float64(len(unique)) / float64(len(words))
}

func adMarkerCount(content string) int {
	count := 0

	for _, pattern := range adMarkerPatterns {
		if pattern.MatchString(content) {
			count++
		}
	}

	return count
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}

// truncateAtSentence cuts text to maxRunes at the last sentence boundary
// within the final tenth of the window. A mid-sentence hard cut happens only
// when no boundary lands there.
func truncateAtSentence(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	floor := maxRunes - maxRunes/10

	for i := maxRunes - 1; i >= floor; i-- {
		if !isSentenceEnd(runes, i) {
			continue
		}

		return strings.TrimSpace(string(runes[:i+1]))
	}

	return strings.TrimSpace(string(runes[:maxRunes]))
}

func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?', '…':
	default:
		return false
	}

	return i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
}
