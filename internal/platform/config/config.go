package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrDatabaseURLMissing is returned when neither DATABASE_URL nor its alias is set.
var ErrDatabaseURLMissing = errors.New("DATABASE_URL is required")

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	DatabaseURL string `env:"DATABASE_URL"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`

	// LLM provider (OpenAI-compatible endpoint).
	GeminiAPIKey        string `env:"GEMINI_API_KEY,required"`
	GeminiAPIEndpoint   string `env:"GEMINI_API_ENDPOINT" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	RPS                 int    `env:"RPS" envDefault:"3"`
	SummarizationModel  string `env:"SUMMARIZATION_MODEL" envDefault:"gemini-2.0-flash"`
	CategorizationModel string `env:"CATEGORIZATION_MODEL" envDefault:"gemini-2.0-flash"`
	DigestModel         string `env:"DIGEST_MODEL" envDefault:"gemini-2.0-flash"`
	LLMMaxRetries       int    `env:"LLM_MAX_RETRIES" envDefault:"2"`

	// Output adapters.
	TelegramToken        string `env:"TELEGRAM_TOKEN"`
	TelegramChatID       int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramChatIDNews   int64  `env:"TELEGRAM_CHAT_ID_NEWS"`
	TelegraphAccessToken string `env:"TELEGRAPH_ACCESS_TOKEN"`

	// Processing limits.
	MaxWorkers         int           `env:"MAX_WORKERS" envDefault:"5"`
	BrowserConcurrency int           `env:"BROWSER_CONCURRENCY" envDefault:"2"`
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"24h"`
	CacheDir           string        `env:"CACHE_DIR" envDefault:"./cache"`
	MaxContentLength   int           `env:"MAX_CONTENT_LENGTH" envDefault:"50000"`
	MinContentLength   int           `env:"MIN_CONTENT_LENGTH" envDefault:"200"`
	RenderFirstMS      int           `env:"PLAYWRIGHT_TIMEOUT_FIRST_MS" envDefault:"10000"`
	RenderBudgetMS     int           `env:"PLAYWRIGHT_TOTAL_BUDGET_MS" envDefault:"45000"`

	// Fetching.
	FetchTimeout            time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchMaxRetries         int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	FetchGlobalConcurrency  int           `env:"FETCH_GLOBAL_CONCURRENCY" envDefault:"16"`
	FetchPerHostConcurrency int           `env:"FETCH_PER_HOST_CONCURRENCY" envDefault:"4"`
	FetchUserAgent          string        `env:"FETCH_USER_AGENT" envDefault:"Mozilla/5.0 (compatible; newspipe/1.0)"`

	// Taxonomy.
	NewsCategories  []string `env:"NEWS_CATEGORIES" envSeparator:"," envDefault:"Business,Tech,Science,Nature,Serbia,Marketing,Other"`
	DefaultCategory string   `env:"DEFAULT_CATEGORY" envDefault:"Other"`
	MaxCategories   int      `env:"MAX_CATEGORIES_PER_ARTICLE" envDefault:"3"`

	// Scheduler. Interval values are plain seconds, matching the env names.
	SchedulerCheckIntervalSeconds int `env:"SCHEDULER_CHECK_INTERVAL_SECONDS" envDefault:"60"`
	SchedulerStuckHours           int `env:"SCHEDULER_STUCK_HOURS" envDefault:"2"`
	SchedulerTaskTimeoutSeconds   int `env:"SCHEDULER_TASK_TIMEOUT_SECONDS" envDefault:"0"`

	// Digest assembly.
	DigestMinArticles int `env:"DIGEST_MIN_ARTICLES" envDefault:"1"`

	// AI selector discovery budget.
	AIDiscoveryDailyLimit int `env:"AI_DISCOVERY_DAILY_LIMIT" envDefault:"25"`

	// Admin API auth.
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	JWTSecret     string `env:"JWT_SECRET"`

	// Database pool.
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"25"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"5"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyAliases(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyAliases maps legacy env names to their current fields.
func applyAliases(cfg *Config) {
	if cfg.DatabaseURL == "" {
		setStringFromEnv("POSTGRES_DSN", &cfg.DatabaseURL)
	}

	if !hasEnv("GEMINI_API_ENDPOINT") {
		setStringFromEnv("LLM_API_ENDPOINT", &cfg.GeminiAPIEndpoint)
	}

	if !hasEnv("TELEGRAM_TOKEN") {
		setStringFromEnv("BOT_TOKEN", &cfg.TelegramToken)
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLMissing
	}

	if c.MinContentLength >= c.MaxContentLength {
		return fmt.Errorf("MIN_CONTENT_LENGTH %d must be below MAX_CONTENT_LENGTH %d", c.MinContentLength, c.MaxContentLength)
	}

	if c.AdminUsername != "" && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when ADMIN_USERNAME is set")
	}

	return nil
}

// SchedulerEnabledTasks returns the task names the scheduler seeds on first run.
func (c *Config) SchedulerEnabledTasks() []string {
	return []string{"news_digest", "news_processing"}
}

// SchedulerCheckInterval returns the scheduler tick as a duration.
func (c *Config) SchedulerCheckInterval() time.Duration {
	return time.Duration(c.SchedulerCheckIntervalSeconds) * time.Second
}

// SchedulerTaskTimeout returns the global task timeout; zero disables it.
func (c *Config) SchedulerTaskTimeout() time.Duration {
	return time.Duration(c.SchedulerTaskTimeoutSeconds) * time.Second
}

// RenderFirstTimeout returns the first-attempt render timeout.
func (c *Config) RenderFirstTimeout() time.Duration {
	return time.Duration(c.RenderFirstMS) * time.Millisecond
}

// RenderBudget returns the total render budget per URL.
func (c *Config) RenderBudget() time.Duration {
	return time.Duration(c.RenderBudgetMS) * time.Millisecond
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}
