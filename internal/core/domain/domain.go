package domain

import (
	"encoding/json"
	"time"
)

// Source represents a configured news source.
type Source struct {
	ID            int64
	Name          string
	Type          string
	URL           string
	Enabled       bool
	Config        json.RawMessage
	FetchInterval int
	LastFetch     *time.Time
	LastSuccess   *time.Time
	LastError     string
	ErrorCount    int
	CreatedAt     time.Time
}

// Source type constants.
const (
	SourceTypeRSS      = "rss"
	SourceTypeTelegram = "telegram"
	SourceTypeGeneric  = "generic"
	SourceTypeCustom   = "custom"
)

// Article represents a stored article at any stage of processing.
type Article struct {
	ID                int64
	SourceID          int64
	SourceType        string
	Title             string
	URL               string
	Content           string
	Summary           string
	ImageURL          string
	MediaFiles        json.RawMessage
	Metadata          json.RawMessage
	PublishedAt       time.Time
	FetchedAt         time.Time
	Processed         bool
	SummaryProcessed  bool
	CategoryProcessed bool
	AdProcessed       bool
	IsAdvertisement   bool
	AdConfidence      float32
	AdType            string
	AdReasoning       string
	AdMarkers         json.RawMessage
	HashContent       string
}

// Category represents a fixed digest category.
type Category struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	Color       string
}

// CategoryWithCount pairs a category with its article count for the API.
type CategoryWithCount struct {
	Category
	ArticleCount int
}

// CategoryAssignment links an article to a category with a confidence score.
type CategoryAssignment struct {
	ArticleID  int64
	CategoryID int64
	Confidence float32
}

// CategoryMapping maps a free-form AI label to a fixed category.
type CategoryMapping struct {
	ID                  int64
	AICategory          string
	FixedCategory       string
	ConfidenceThreshold float32
	Description         string
	CreatedBy           string
	UsageCount          int
	LastUsed            *time.Time
	IsActive            bool
}

// DailySummary is one generated category summary for a calendar date.
type DailySummary struct {
	ID            int64
	Date          time.Time
	Category      string
	SummaryText   string
	ArticlesCount int
	CreatedAt     time.Time
}

// ProcessingStats accumulates per-day pipeline counters.
type ProcessingStats struct {
	Date                  time.Time
	ArticlesFetched       int
	ArticlesProcessed     int
	APICallsMade          int
	ErrorsCount           int
	ProcessingTimeSeconds int
}

// ScheduleSetting is the stored schedule for one named task.
type ScheduleSetting struct {
	ID           int64
	TaskName     string
	Enabled      bool
	ScheduleType string
	Hour         int
	Minute       int
	Weekdays     []int
	Timezone     string
	TaskConfig   json.RawMessage
	LastRun      *time.Time
	NextRun      *time.Time
	IsRunning    bool
}

// ExtractionPattern is a remembered selector that worked for a domain.
type ExtractionPattern struct {
	ID                   int64
	Domain               string
	Selector             string
	Strategy             string
	SuccessCount         int
	FailureCount         int
	QualityAvg           float32
	ContentLengthAvg     int
	DiscoveredBy         string
	IsStable             bool
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	FirstSuccessAt       *time.Time
	LastSuccessAt        *time.Time
}

// Pattern discovery provenance.
const (
	DiscoveredByManual    = "manual"
	DiscoveredByAI        = "ai"
	DiscoveredByHeuristic = "heuristic"
)

// Extraction strategy names, recorded with every attempt.
const (
	StrategyLearnedSelector = "learned_selector"
	StrategyReadability     = "readability"
	StrategyStructured      = "structured"
	StrategyCSSSelectors    = "css_selectors"
	StrategyHeadless        = "headless"
	StrategyAIDiscovery     = "ai_discovery"
)

// DomainStability tracks extraction reliability per domain.
type DomainStability struct {
	ID                   int64
	Domain               string
	IsStable             bool
	SuccessRate7d        float32
	SuccessRate30d       float32
	TotalAttempts        int
	SuccessfulAttempts   int
	LastSuccess          *time.Time
	LastFailure          *time.Time
	LastAIAnalysis       *time.Time
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	StabilityAchievedAt  *time.Time
	NeedsReanalysis      bool
	AICreditsSaved       int
	ReanalysisTriggers   json.RawMessage
}

// ExtractionAttempt is one recorded run of one extraction strategy.
type ExtractionAttempt struct {
	ID            int64
	ArticleURL    string
	Domain        string
	Strategy      string
	Selector      string
	Success       bool
	ContentLength int
	Quality       float32
	ElapsedMS     int
	ErrorMessage  string
	AITriggered   bool
	UserAgent     string
	HTTPStatus    int
	CreatedAt     time.Time
}

// AIUsage records one AI analysis spend for a domain.
type AIUsage struct {
	ID                 int64
	Domain             string
	AnalysisType       string
	TokensUsed         int
	CreditsCost        float32
	AnalysisResult     json.RawMessage
	PatternsDiscovered int
	PatternsSuccessful int
	CreatedAt          time.Time
}

// Task is an ad hoc queued unit of work triggered via the API.
type Task struct {
	ID           string
	Type         string
	Data         json.RawMessage
	Status       string
	Priority     int
	Attempts     int
	MaxAttempts  int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// Task status constants.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Scheduled task names.
const (
	TaskNewsDigest     = "news_digest"
	TaskNewsProcessing = "news_processing"
)
