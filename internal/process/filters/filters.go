// Package filters implements the gate chain that runs before any AI spend.
// Gates are ordered from cheapest to most expensive; the first failing gate
// wins and its reason is recorded. Nothing here calls a provider: the chain
// exists to keep junk away from the analysis budget.
package filters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/observability"
)

// Drop reasons, one per gate.
const (
	ReasonLength      = "filter_length"
	ReasonBoilerplate = "filter_boilerplate"
	ReasonLanguage    = "filter_language"
	ReasonSpam        = "filter_spam"
	ReasonDuplicate   = "filter_duplicate"
	ReasonQuality     = "filter_quality"
)

const (
	defaultMinLength      = 100
	defaultMaxLength      = 50000
	defaultMinTitleLength = 10
	defaultDedupWindow    = 24 * time.Hour

	minLettersForLanguage = 50
	cyrillicRussianRatio  = 0.3
	cyrillicEnglishRatio  = 0.1

	qualityThreshold = 0.4

	capsRunLimit       = 10
	doubleExclaimLimit = 3
	sweepSizeThreshold = 4096
	sweepMinInterval   = 10 * time.Minute
)

// Boilerplate texts are page chrome that slipped through extraction: cookie
// walls, error pages, JS walls, robot checks.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(использовани[ея] файлов cookie|мы используем cookie|this site uses cookies)`),
	regexp.MustCompile(`(?i)(продолжая просмотр сайта, вы соглашаетесь|by continuing to browse)`),
	regexp.MustCompile(`(?i)(страница не найдена|page not found|404 not found)`),
	regexp.MustCompile(`(?i)(javascript is (disabled|required)|включите javascript|enable javascript)`),
	regexp.MustCompile(`(?i)(подтвердите, что вы не робот|checking your browser|access denied|доступ ограничен)`),
	regexp.MustCompile(`(?i)(подпишитесь, чтобы продолжить чтение|subscribe to (continue|read))`),
}

// Personal-service and scam offers never become news.
var personalServicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(гадалк|таро|астролог|приворот|порч[ауе]|экстрасенс)`),
	regexp.MustCompile(`(?i)(казино|букмекер|фриспин|ставки на спорт)`),
	regexp.MustCompile(`(?i)(микрозайм|займ без справок|кредит без отказа)`),
	regexp.MustCompile(`(?i)(заработок в интернете без вложений|пассивный доход до \d)`),
	regexp.MustCompile(`(?i)(эскорт|интим[ -]услуг)`),
	regexp.MustCompile(`(?i)(вы выиграли|поздравляем! вы стали (победителем|обладателем))`),
}

// Ad markers set a prior; the AI analysis still confirms. Promo verbs,
// percent-off offers, urgency wording, affiliate URL parameters.
var adMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(скидк[аи] до \d+\s?%|промокод|акция действует)`),
	regexp.MustCompile(`(?i)(купите? (сейчас|сегодня)|успей(те)? (купить|заказать)|закажите со скидкой)`),
	regexp.MustCompile(`(?i)(только сегодня|осталось \d+ (мест|штук)|предложение ограничено)`),
	regexp.MustCompile(`(?i)(на правах рекламы|рекламный материал|партн[её]рский материал|\berid\b)`),
	regexp.MustCompile(`(?i)[?&](utm_source|utm_campaign|partner|aff(iliate)?_?id)=`),
	regexp.MustCompile(`(?i)#(ad|реклама|промо)\b`),
}

var (
	sentenceEndRegex   = regexp.MustCompile(`[.!?…]+(\s|$)`)
	doubleExclaimRegex = regexp.MustCompile(`!{2,}`)
	punctStripRegex    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceCollapseRegex = regexp.MustCompile(`\s+`)
)

// Item is a filter input, mapped from a source candidate.
type Item struct {
	Title      string
	Body       string
	URL        string
	SourceType string

	// AllowAnyLanguage lets mid-range Cyrillic ratios through for sources
	// configured as mixed-language.
	AllowAnyLanguage bool
}

// Verdict is the gate chain outcome. Hash is computed even for dropped
// items; Quality and AdPrior only when the item got that far.
type Verdict struct {
	Drop    bool
	Reason  string
	Hash    string
	Quality float64
	AdPrior bool
}

// HashStore answers whether a content hash is already persisted.
type HashStore interface {
	HashContentExists(ctx context.Context, hash string) (bool, error)
}

// Config bounds the gates. Zero fields fall back to defaults.
type Config struct {
	MinLength      int
	MaxLength      int
	MinTitleLength int
	DedupWindow    time.Duration
}

// Filter runs the gate chain. Safe for concurrent use.
type Filter struct {
	cfg    Config
	store  HashStore
	caser  cases.Caser
	logger *zerolog.Logger

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// New creates a Filter backed by the given hash store.
func New(cfg Config, store HashStore, logger *zerolog.Logger) *Filter {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinLength
	}

	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxLength
	}

	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = defaultMinTitleLength
	}

	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}

	return &Filter{
		cfg:       cfg,
		store:     store,
		caser:     cases.Fold(),
		logger:    logger,
		seen:      make(map[string]time.Time),
		lastSweep: time.Now(),
	}
}

// Check runs all gates in order. A non-nil error means only that the
// duplicate check could not reach the store; the verdict is still usable.
func (f *Filter) Check(ctx context.Context, item *Item) (Verdict, error) {
	v := Verdict{Hash: f.ContentHash(item.Title, item.Body)}

	if reason := f.lengthGate(item); reason != "" {
		return f.drop(v, reason), nil
	}

	if IsEmojiOnly(item.Body) || IsBoilerplateOnly(item.Body) || matchesAny(boilerplatePatterns, item.Body) {
		return f.drop(v, ReasonBoilerplate), nil
	}

	if !f.languageGate(item) {
		return f.drop(v, ReasonLanguage), nil
	}

	personalService := matchesAny(personalServicePatterns, item.Body)
	if personalService {
		return f.drop(v, ReasonSpam), nil
	}

	dup, err := f.isDuplicate(ctx, v.Hash)
	if dup {
		return f.drop(v, ReasonDuplicate), nil
	}

	v.Quality = f.QualityScore(item, personalService)
	observability.FilterQualityScore.Observe(v.Quality)

	if v.Quality < qualityThreshold {
		return f.drop(v, ReasonQuality), err
	}

	v.AdPrior = matchesAny(adMarkerPatterns, item.Body) || matchesAny(adMarkerPatterns, item.URL)

	f.remember(v.Hash)

	return v, err
}

func (f *Filter) drop(v Verdict, reason string) Verdict {
	v.Drop = true
	v.Reason = reason

	observability.FilterDrops.WithLabelValues(reason).Inc()

	return v
}

func (f *Filter) lengthGate(item *Item) string {
	bodyLen := len([]rune(item.Body))
	if bodyLen < f.cfg.MinLength || bodyLen > f.cfg.MaxLength {
		return ReasonLength
	}

	if len([]rune(strings.TrimSpace(item.Title))) < f.cfg.MinTitleLength {
		return ReasonLength
	}

	return ""
}

// languageGate accepts clearly Russian or clearly English text. Mid-range
// Cyrillic ratios are usually encoding garbage or mixed navigation chrome
// and are rejected unless the source allows them. Texts under 50 letters
// pass: too short to judge.
func (f *Filter) languageGate(item *Item) bool {
	letters, cyrillic := countLetters(item.Body)
	if letters < minLettersForLanguage {
		return true
	}

	ratio := float64(cyrillic) / float64(letters)

	switch {
	case ratio >= cyrillicRussianRatio:
		return true
	case ratio <= cyrillicEnglishRatio:
		return true
	default:
		return item.AllowAnyLanguage
	}
}

// isDuplicate consults the in-process window first, then the store. A store
// error is reported but treated as not-duplicate: the URL upsert still
// dedupes exact re-fetches.
func (f *Filter) isDuplicate(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()

	if seenAt, ok := f.seen[hash]; ok && time.Since(seenAt) < f.cfg.DedupWindow {
		f.mu.Unlock()
		return true, nil
	}

	f.mu.Unlock()

	exists, err := f.store.HashContentExists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}

	return exists, nil
}

func (f *Filter) remember(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen[hash] = time.Now()

	if len(f.seen) > sweepSizeThreshold && time.Since(f.lastSweep) > sweepMinInterval {
		cutoff := time.Now().Add(-f.cfg.DedupWindow)

		for h, ts := range f.seen {
			if ts.Before(cutoff) {
				delete(f.seen, h)
			}
		}

		f.lastSweep = time.Now()

		f.logger.Debug().Int("remaining", len(f.seen)).Msg("Swept in-process dedup window")
	}
}

// QualityScore computes the heuristic score in [0, 1]. The weights favor
// structured, medium-length texts from feeds.
func (f *Filter) QualityScore(item *Item, personalService bool) float64 {
	score := 0.5

	if len([]rune(item.Title)) > 20 {
		score += 0.1
	}

	sentences := countSentences(item.Body)
	if sentences >= 3 && sentences <= 50 {
		score += 0.15
	} else {
		score += 0.05
	}

	if countParagraphs(item.Body) >= 2 {
		score += 0.1
	}

	words := len(strings.Fields(item.Body))
	if words >= 50 && words <= 2000 {
		score += 0.1
	} else {
		score += 0.05
	}

	switch item.SourceType {
	case domain.SourceTypeRSS:
		score += 0.05
	case domain.SourceTypeTelegram:
		score += 0.02
	}

	if hasCapsRun(item.Body, capsRunLimit) {
		score -= 0.1
	}

	if len(doubleExclaimRegex.FindAllString(item.Body, -1)) > doubleExclaimLimit {
		score -= 0.1
	}

	if personalService {
		score -= 0.3
	}

	return score
}

// ContentHash is sha256 over the normalized title and body. Normalization
// folds case, strips punctuation and collapses whitespace so cosmetic
// differences between syndicated copies hash identically.
func (f *Filter) ContentHash(title, body string) string {
	sum := sha256.Sum256([]byte(f.normalize(title) + "\n" + f.normalize(body)))
	return hex.EncodeToString(sum[:])
}

func (f *Filter) normalize(s string) string {
	s = f.caser.String(s)
	s = punctStripRegex.ReplaceAllString(s, "")
	s = spaceCollapseRegex.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}

	return false
}

func countLetters(text string) (letters, cyrillic int) {
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}

		letters++

		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}

	return letters, cyrillic
}

func countSentences(text string) int {
	return len(sentenceEndRegex.FindAllString(text, -1))
}

func countParagraphs(text string) int {
	count := 0

	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			count++
		}
	}

	return count
}

// hasCapsRun reports a run of limit or more uppercase letters. Spaces keep
// the run alive so shouted multi-word phrases count.
func hasCapsRun(text string, limit int) bool {
	run := 0

	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			run++
			if run >= limit {
				return true
			}
		case unicode.IsSpace(r):
			// keep counting
		default:
			run = 0
		}
	}

	return false
}
