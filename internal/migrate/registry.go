package migrate

import "context"

// Migration couples an embedded SQL file with the probe that tells whether
// the schema already satisfies it. Probes let the manager heal partially
// applied versions and back-fill ledger rows for pre-existing schemas.
type Migration struct {
	Version     int64
	File        string
	Description string
	Probe       Probe
}

// Probe inspects the live schema and reports whether the migration's
// effects are present.
type Probe func(ctx context.Context, q querier) (bool, error)

// Registry returns all known migrations in version order.
func Registry() []Migration {
	return []Migration{
		{
			Version:     1,
			File:        "0001_sources.sql",
			Description: "news sources",
			Probe:       tableExists("sources"),
		},
		{
			Version:     2,
			File:        "0002_articles.sql",
			Description: "articles with processing flags and ad verdicts",
			Probe: allOf(
				tableExists("articles"),
				columnExists("articles", "hash_content"),
				columnExists("articles", "ad_confidence"),
			),
		},
		{
			Version:     3,
			File:        "0003_categories.sql",
			Description: "category taxonomy, assignments and AI label mapping",
			Probe: allOf(
				tableExists("categories"),
				tableExists("article_categories"),
				tableExists("category_mapping"),
			),
		},
		{
			Version:     4,
			File:        "0004_extraction_memory.sql",
			Description: "extraction patterns, attempts and domain stability",
			Probe: allOf(
				tableExists("extraction_patterns"),
				tableExists("domain_stability"),
				tableExists("extraction_attempts"),
				tableExists("ai_usage_tracking"),
			),
		},
		{
			Version:     5,
			File:        "0005_schedule.sql",
			Description: "per-task schedule settings",
			Probe:       tableExists("schedule_settings"),
		},
		{
			Version:     6,
			File:        "0006_summaries.sql",
			Description: "daily summaries and processing stats",
			Probe: allOf(
				tableExists("daily_summaries"),
				tableExists("processing_stats"),
			),
		},
		{
			Version:     7,
			File:        "0007_settings_tasks.sql",
			Description: "settings KV store and ad hoc task queue",
			Probe: allOf(
				tableExists("settings"),
				tableExists("task_queue"),
			),
		},
		{
			Version:     8,
			File:        "0008_indexes.sql",
			Description: "query indexes",
			Probe:       indexExists("idx_articles_published_at"),
		},
	}
}
