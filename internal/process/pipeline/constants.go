package pipeline

const (
	// processBatchSize bounds how many articles one cycle analyzes. The rest
	// stay in the backlog for the next cycle.
	processBatchSize = 200

	// fallbackSummaryRunes clips the teaser stored when analysis keeps failing.
	fallbackSummaryRunes = 500

	// summaryBriefRunes clips each article brief fed to the category summary.
	summaryBriefRunes = 500

	// summaryMaxArticles bounds how many briefs one category summary sees.
	summaryMaxArticles = 15

	// minSummaryRunes rejects degenerate model answers for a category.
	minSummaryRunes = 50
)

// Processing outcome labels shared by metrics and logs.
const (
	statusSuccess = "success"
	statusError   = "error"
	statusSkipped = "skipped"
	statusFailure = "failure"
)

// Structured log field names.
const (
	logFieldCycleID    = "cycle_id"
	logFieldArticleID  = "article_id"
	logFieldSourceID   = "source_id"
	logFieldSourceType = "source_type"
	logFieldCategory   = "category"
	logFieldCount      = "count"
	logFieldURL        = "url"
)
