// Package categories resolves free-form AI category labels into the fixed
// digest taxonomy. A label goes through the curated mapping table first,
// then the taxonomy itself, then a normalized retry with punctuation and
// annotations stripped. Labels nothing recognizes are recorded for review
// and land on the default category at half confidence.
package categories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	mappingCacheTTL = 5 * time.Minute

	// Unrecognized labels keep half of their reported confidence.
	unmappedPenalty = 0.5

	// Confidence attached when the input carried no usable labels at all.
	fallbackConfidence = 0.5
)

const (
	outcomeMapping  = "mapping"
	outcomeTaxonomy = "taxonomy"
	outcomeUnmapped = "unmapped"
	outcomeFallback = "fallback"
)

// compositeSeparators split labels like "Tech/Business" into parts. The
// first separator present wins, so "A, B and C" splits on the comma.
var compositeSeparators = []string{"|", "/", ",", " and ", " & ", " or "}

// Store is the persistence surface the mapper relies on.
type Store interface {
	GetCategoryMappings(ctx context.Context) ([]db.CategoryMapping, error)
	ListCategories(ctx context.Context) ([]db.Category, error)
	RecordMappingUsage(ctx context.Context, mappingID int64, at time.Time) error
	RecordUnmappedCategory(ctx context.Context, aiLabel, fallback string) error
}

// target is a pre-resolved mapping row: the taxonomy category it points at
// and the row id for usage accounting.
type target struct {
	mappingID int64
	category  db.Category
}

type index struct {
	exact      map[string]target
	normalized map[string]target
	names      map[string]db.Category
	folded     map[string]db.Category
	fallback   db.Category
	fetchedAt  time.Time
}

// Mapper resolves AI labels against the mapping table and the category
// taxonomy. Given the same table state the result is deterministic.
type Mapper struct {
	cfg    *config.Config
	store  Store
	logger *zerolog.Logger

	mu    sync.Mutex
	cache *index
}

func New(cfg *config.Config, store Store, logger *zerolog.Logger) *Mapper {
	return &Mapper{cfg: cfg, store: store, logger: logger}
}

// Resolve maps AI-suggested labels onto taxonomy categories. Composite
// labels split into parts that resolve independently, duplicates keep
// their highest confidence, and the result is capped at the configured
// per-article maximum, highest confidence first. When nothing usable
// comes in, the default category is attached at half confidence so the
// article still lands in a digest section.
func (m *Mapper) Resolve(ctx context.Context, scores []llm.CategoryScore) ([]db.CategoryScore, error) {
	idx, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	var (
		order []int64
		best  = make(map[int64]float64)
	)

	add := func(id int64, confidence float64) {
		if prev, seen := best[id]; seen {
			if confidence > prev {
				best[id] = confidence
			}

			return
		}

		best[id] = confidence
		order = append(order, id)
	}

	for _, score := range scores {
		for _, part := range splitLabel(score.Name) {
			cat, mappingID, outcome := idx.resolve(part)
			if outcome == "" {
				continue
			}

			confidence := score.Confidence

			switch outcome {
			case outcomeMapping:
				m.recordUsage(ctx, mappingID)
			case outcomeUnmapped:
				confidence *= unmappedPenalty
				m.recordUnmapped(ctx, part, cat.Name)
			}

			observability.CategoryResolutions.WithLabelValues(outcome).Inc()
			add(cat.ID, confidence)
		}
	}

	if len(order) == 0 {
		observability.CategoryResolutions.WithLabelValues(outcomeFallback).Inc()

		return []db.CategoryScore{{CategoryID: idx.fallback.ID, Confidence: fallbackConfidence}}, nil
	}

	out := make([]db.CategoryScore, 0, len(order))
	for _, id := range order {
		out = append(out, db.CategoryScore{CategoryID: id, Confidence: float32(best[id])})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })

	if limit := m.cfg.MaxCategories; limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// load returns the resolution index, refreshing it from storage when the
// cached copy is older than the TTL.
func (m *Mapper) load(ctx context.Context) (*index, error) {
	m.mu.Lock()
	cached := m.cache
	m.mu.Unlock()

	if cached != nil && time.Since(cached.fetchedAt) < mappingCacheTTL {
		return cached, nil
	}

	mappings, err := m.store.GetCategoryMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load category mappings: %w", err)
	}

	categories, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	idx, err := buildIndex(mappings, categories, m.cfg.DefaultCategory)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache = idx
	m.mu.Unlock()

	return idx, nil
}

// buildIndex folds the taxonomy and the active mappings into lookup maps.
// Rows arrive ordered by ai_category, so on key collisions the first row
// wins and rebuilds stay deterministic.
func buildIndex(mappings []db.CategoryMapping, categories []db.Category, fallbackName string) (*index, error) {
	idx := &index{
		exact:      make(map[string]target, len(mappings)),
		normalized: make(map[string]target, len(mappings)),
		names:      make(map[string]db.Category, len(categories)),
		folded:     make(map[string]db.Category, len(categories)),
		fetchedAt:  time.Now(),
	}

	for _, cat := range categories {
		key := strings.ToLower(cat.Name)
		if _, dup := idx.names[key]; !dup {
			idx.names[key] = cat
		}

		if norm := normalizeLabel(cat.Name); norm != "" {
			if _, dup := idx.folded[norm]; !dup {
				idx.folded[norm] = cat
			}
		}
	}

	fallback, ok := idx.names[strings.ToLower(fallbackName)]
	if !ok {
		return nil, fmt.Errorf("default category %q is not registered", fallbackName)
	}

	idx.fallback = fallback

	for _, mapping := range mappings {
		// A mapping pointing at a category that no longer exists resolves
		// to the default instead of dropping the article.
		cat, ok := idx.names[strings.ToLower(mapping.FixedCategory)]
		if !ok {
			cat = fallback
		}

		hit := target{mappingID: mapping.ID, category: cat}

		key := strings.ToLower(strings.TrimSpace(mapping.AICategory))
		if _, dup := idx.exact[key]; key != "" && !dup {
			idx.exact[key] = hit
		}

		if norm := normalizeLabel(mapping.AICategory); norm != "" {
			if _, dup := idx.normalized[norm]; !dup {
				idx.normalized[norm] = hit
			}
		}
	}

	return idx, nil
}

// resolve looks one label part up. The mapping table is consulted before
// the taxonomy so curators can override taxonomy words, exact form before
// the normalized one. The returned outcome is empty for blank labels and
// outcomeUnmapped carries the fallback category.
func (idx *index) resolve(label string) (db.Category, int64, string) {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" {
		return db.Category{}, 0, ""
	}

	if hit, ok := idx.exact[key]; ok {
		return hit.category, hit.mappingID, outcomeMapping
	}

	if cat, ok := idx.names[key]; ok {
		return cat, 0, outcomeTaxonomy
	}

	if norm := normalizeLabel(label); norm != "" {
		if hit, ok := idx.normalized[norm]; ok {
			return hit.category, hit.mappingID, outcomeMapping
		}

		if cat, ok := idx.folded[norm]; ok {
			return cat, 0, outcomeTaxonomy
		}
	}

	return idx.fallback, 0, outcomeUnmapped
}

func (m *Mapper) recordUsage(ctx context.Context, mappingID int64) {
	if err := m.store.RecordMappingUsage(ctx, mappingID, time.Now().UTC()); err != nil {
		m.logger.Warn().Err(err).Int64("mapping_id", mappingID).Msg("record mapping usage")
	}
}

func (m *Mapper) recordUnmapped(ctx context.Context, label, fallback string) {
	m.logger.Info().Str("label", label).Str("fallback", fallback).Msg("unmapped AI category")

	if err := m.store.RecordUnmappedCategory(ctx, label, fallback); err != nil {
		m.logger.Warn().Err(err).Str("label", label).Msg("record unmapped category")
	}
}

// splitLabel breaks a composite label into trimmed parts.
func splitLabel(label string) []string {
	for _, sep := range compositeSeparators {
		if !strings.Contains(label, sep) {
			continue
		}

		parts := strings.Split(label, sep)
		out := make([]string, 0, len(parts))

		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}

		if len(out) > 0 {
			return out
		}
	}

	return []string{strings.TrimSpace(label)}
}

// normalizeLabel folds a label down to bare lowercase letters. Digits,
// punctuation, spaces and parenthesized annotations all drop out, so
// "Tech (hardware)" and "tech" meet at the same key.
func normalizeLabel(label string) string {
	var (
		b     strings.Builder
		depth int
	)

	for _, r := range label {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}
