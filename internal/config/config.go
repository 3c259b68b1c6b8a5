package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
// It is immutable after Load; callers reconstruct to reload.
type Config struct {
	Feed          FeedConfig                 `yaml:"feed"`
	Scraping      ScrapingConfig             `yaml:"scraping"`
	Browser       BrowserConfig              `yaml:"browser"`
	Hunter        HunterConfig               `yaml:"hunter"`
	AI            AIConfig                   `yaml:"ai"`
	OpenAI        OpenAIConfig               `yaml:"openai"`
	AzureOpenAI   AzureOpenAIConfig          `yaml:"azure_openai"`
	Anthropic     AnthropicConfig            `yaml:"anthropic"`
	Gemini        GeminiConfig               `yaml:"gemini"`
	AWS           AWSConfig                  `yaml:"aws"`
	Resend        ResendConfig               `yaml:"resend"`
	Email         EmailConfig                `yaml:"email"`
	Notion        NotionConfig               `yaml:"notion"`
	Storage       StorageConfig              `yaml:"storage"`
	Cache         CacheConfig                `yaml:"cache"`
	RateLimits    map[string]RateLimitConfig `yaml:"rate_limits"`
	Workers       WorkerConfig               `yaml:"workers"`
	Controls      ControlsConfig             `yaml:"controls"`
	Notifications NotificationsConfig        `yaml:"notifications"`
	Analytics     AnalyticsConfig            `yaml:"analytics"`
	Server        ServerConfig               `yaml:"server"`
	LogLevel      string                     `yaml:"log_level"`
	SenderProfile string                     `yaml:"sender_profile"`
}

// FeedConfig holds the product-launch feed source.
type FeedConfig struct {
	RSSURL         string `yaml:"rss_url"`
	ListingURL     string `yaml:"listing_url"`
	MaxPages       int    `yaml:"max_pages"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the feed request timeout as a duration.
func (c FeedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ScrapingConfig holds page-retrieval pacing and identification.
type ScrapingConfig struct {
	DelayMS        int    `yaml:"delay_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

// Delay returns the minimum spacing between scraping requests.
func (c ScrapingConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// Timeout returns the per-page retrieval timeout.
func (c ScrapingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BrowserConfig holds the headless browser pool settings.
type BrowserConfig struct {
	Enabled            bool   `yaml:"enabled"`
	PoolSize           int    `yaml:"pool_size"`
	Headless           *bool  `yaml:"headless"`
	BinPath            string `yaml:"bin_path"`
	NavTimeoutSeconds  int    `yaml:"nav_timeout_seconds"`
	IdleReclaimSeconds int    `yaml:"idle_reclaim_seconds"`
	DisableImages      bool   `yaml:"disable_images"`
}

// IsHeadless reports whether the browser runs headless (default true).
func (c BrowserConfig) IsHeadless() bool { return boolDefault(c.Headless, true) }

// NavTimeout returns the page navigation timeout.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// IdleReclaim returns how long a session may sit checked out before the
// watchdog reclaims it.
func (c BrowserConfig) IdleReclaim() time.Duration {
	return time.Duration(c.IdleReclaimSeconds) * time.Second
}

// HunterConfig holds the email-finder API configuration.
type HunterConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c HunterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AIConfig selects the completion backend and the AI feature toggles.
type AIConfig struct {
	Backend                 string  `yaml:"backend"`
	Model                   string  `yaml:"model"`
	Temperature             float64 `yaml:"temperature"`
	MaxTokens               int     `yaml:"max_tokens"`
	TimeoutSeconds          int     `yaml:"timeout_seconds"`
	EnableProfileParsing    *bool   `yaml:"enable_profile_parsing"`
	EnableProductAnalysis   *bool   `yaml:"enable_product_analysis"`
	EnhancedPersonalization bool    `yaml:"enhanced_personalization"`
	MaxEmailWords           int     `yaml:"max_email_words"`
	PersonalizationFloor    float64 `yaml:"personalization_floor"`
}

// ProfileParsingEnabled reports whether profile parsing runs (default true).
func (c AIConfig) ProfileParsingEnabled() bool { return boolDefault(c.EnableProfileParsing, true) }

// ProductAnalysisEnabled reports whether product analysis runs (default true).
func (c AIConfig) ProductAnalysisEnabled() bool { return boolDefault(c.EnableProductAnalysis, true) }

// Timeout returns the per-completion timeout.
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig holds OpenAI API credentials.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // empty uses the public API
	Model   string `yaml:"model"`
}

// AzureOpenAIConfig holds Azure OpenAI credentials and deployment mapping.
type AzureOpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GeminiConfig holds Google Gemini credentials.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AWSConfig holds the shared AWS settings used by the Bedrock backend, the
// DynamoDB storage backend, the SES sender, and the S3 analytics archive.
// Empty access keys fall back to the default credential chain.
type AWSConfig struct {
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	BedrockModel string `yaml:"bedrock_model"`
}

// ResendConfig holds the email-delivery API configuration.
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmailConfig holds outbound sending policy.
type EmailConfig struct {
	Provider          string `yaml:"provider"`
	AutoSend          bool   `yaml:"auto_send"`
	ReviewRequired    *bool  `yaml:"review_required"`
	SenderName        string `yaml:"sender_name"`
	SenderAddress     string `yaml:"sender_address"`
	ReplyTo           string `yaml:"reply_to"`
	BatchSize         int    `yaml:"batch_size"`
	BatchDelaySeconds int    `yaml:"batch_delay_seconds"`
}

// IsReviewRequired reports whether sends require prior review (default true).
func (c EmailConfig) IsReviewRequired() bool { return boolDefault(c.ReviewRequired, true) }

// BatchDelay returns the pause between send batches.
func (c EmailConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelaySeconds) * time.Second
}

// NotionConfig holds the document-database token and table (database) ids.
type NotionConfig struct {
	Token          string `yaml:"token"`
	BaseURL        string `yaml:"base_url"`
	Version        string `yaml:"version"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ProspectsDB    string `yaml:"prospects_db"`
	CampaignsDB    string `yaml:"campaigns_db"`
	LogsDB         string `yaml:"logs_db"`
	StatusDB       string `yaml:"status_db"`
	AnalyticsDB    string `yaml:"analytics_db"`
	ControlDB      string `yaml:"control_db"`
	EmailQueueDB   string `yaml:"email_queue_db"`
}

// Timeout returns the configured timeout as a duration.
func (c NotionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig selects the Store backend.
type StorageConfig struct {
	Type          string `yaml:"type"` // "notion", "dynamodb", or "memory"
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// CacheConfig holds the two-tier cache sizing.
type CacheConfig struct {
	Enabled           *bool  `yaml:"enabled"`
	MaxEntries        int    `yaml:"max_entries"`
	MaxMemoryMB       int    `yaml:"max_memory_mb"`
	Directory         string `yaml:"directory"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
}

// IsEnabled reports whether caching is active (default true).
func (c CacheConfig) IsEnabled() bool { return boolDefault(c.Enabled, true) }

// DefaultTTL returns the default entry lifetime.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// RateLimitConfig holds the token-bucket windows for one external service.
// Zero values leave the corresponding window unlimited.
type RateLimitConfig struct {
	PerMinute     int `yaml:"per_minute"`
	PerHour       int `yaml:"per_hour"`
	PerDay        int `yaml:"per_day"`
	Burst         int `yaml:"burst"`
	MinIntervalMS int `yaml:"min_interval_ms"`
}

// MinInterval returns the spacing floor between grants.
func (c RateLimitConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// WorkerConfig holds the orchestrator pool sizing and pacing.
type WorkerConfig struct {
	MaxWorkers                 int `yaml:"max_workers"`
	BatchSize                  int `yaml:"batch_size"`
	DelayBetweenBatchesSeconds int `yaml:"delay_between_batches_seconds"`
	StageTimeoutSeconds        int `yaml:"stage_timeout_seconds"`
	MaxRetries                 int `yaml:"max_retries"`
	QueueCapacity              int `yaml:"queue_capacity"`
}

// DelayBetweenBatches returns the inter-batch pause.
func (c WorkerConfig) DelayBetweenBatches() time.Duration {
	return time.Duration(c.DelayBetweenBatchesSeconds) * time.Second
}

// StageTimeout returns the per-stage deadline.
func (c WorkerConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// ControlsConfig holds the interactive control channel settings.
type ControlsConfig struct {
	Enabled              *bool `yaml:"enabled"`
	CheckIntervalSeconds int   `yaml:"check_interval_seconds"`
}

// IsEnabled reports whether the control poller runs (default true).
func (c ControlsConfig) IsEnabled() bool { return boolDefault(c.Enabled, true) }

// CheckInterval returns the control polling interval.
func (c ControlsConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// NotificationsConfig holds notifier settings.
type NotificationsConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	MinPriority string   `yaml:"min_priority"`
	Events      []string `yaml:"events"`
}

// IsEnabled reports whether notifications post (default true).
func (c NotificationsConfig) IsEnabled() bool { return boolDefault(c.Enabled, true) }

// AnalyticsConfig holds the daily rollup settings.
type AnalyticsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// ServerConfig holds the optional local status API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads and parses the configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is read first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("HUNTER_API_KEY"); v != "" {
		cfg.Hunter.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		cfg.AzureOpenAI.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		cfg.AzureOpenAI.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); v != "" {
		cfg.AzureOpenAI.Deployment = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("NOTION_TOKEN"); v != "" {
		cfg.Notion.Token = v
	}
	if v := os.Getenv("NOTION_PROSPECTS_DB"); v != "" {
		cfg.Notion.ProspectsDB = v
	}
	if v := os.Getenv("NOTION_CAMPAIGNS_DB"); v != "" {
		cfg.Notion.CampaignsDB = v
	}
	if v := os.Getenv("NOTION_LOGS_DB"); v != "" {
		cfg.Notion.LogsDB = v
	}
	if v := os.Getenv("NOTION_STATUS_DB"); v != "" {
		cfg.Notion.StatusDB = v
	}
	if v := os.Getenv("NOTION_CONTROL_DB"); v != "" {
		cfg.Notion.ControlDB = v
	}
	if v := os.Getenv("PROSPECT_FEED_RSS"); v != "" {
		cfg.Feed.RSSURL = v
	}
	if v := os.Getenv("PROSPECT_FEED_URL"); v != "" {
		cfg.Feed.ListingURL = v
	}
	if v := os.Getenv("LLM_BACKEND"); v != "" {
		cfg.AI.Backend = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.Email.SenderAddress = v
	}
	if v := os.Getenv("SENDER_NAME"); v != "" {
		cfg.Email.SenderName = v
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers.MaxWorkers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feed.RSSURL == "" && c.Feed.ListingURL == "" {
		c.Feed.ListingURL = "https://www.producthunt.com"
	}
	if c.Feed.MaxPages == 0 {
		c.Feed.MaxPages = 5
	}
	if c.Feed.TimeoutSeconds == 0 {
		c.Feed.TimeoutSeconds = 30
	}
	if c.Scraping.DelayMS == 0 {
		c.Scraping.DelayMS = 300
	}
	if c.Scraping.TimeoutSeconds == 0 {
		c.Scraping.TimeoutSeconds = 20
	}
	if c.Scraping.UserAgent == "" {
		c.Scraping.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if c.Browser.PoolSize == 0 {
		c.Browser.PoolSize = 2
	}
	if c.Browser.NavTimeoutSeconds == 0 {
		c.Browser.NavTimeoutSeconds = 25
	}
	if c.Browser.IdleReclaimSeconds == 0 {
		c.Browser.IdleReclaimSeconds = 120
	}
	if c.Hunter.BaseURL == "" {
		c.Hunter.BaseURL = "https://api.hunter.io/v2"
	}
	if c.Hunter.TimeoutSeconds == 0 {
		c.Hunter.TimeoutSeconds = 15
	}
	if c.AI.Backend == "" {
		c.AI.Backend = "openai"
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.7
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 1500
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 90
	}
	if c.AI.MaxEmailWords == 0 {
		c.AI.MaxEmailWords = 200
	}
	if c.AI.PersonalizationFloor == 0 {
		c.AI.PersonalizationFloor = 0.3
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
	if c.AzureOpenAI.APIVersion == "" {
		c.AzureOpenAI.APIVersion = "2024-02-01"
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.AWS.BedrockModel == "" {
		c.AWS.BedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if c.Resend.BaseURL == "" {
		c.Resend.BaseURL = "https://api.resend.com"
	}
	if c.Resend.TimeoutSeconds == 0 {
		c.Resend.TimeoutSeconds = 20
	}
	if c.Email.Provider == "" {
		c.Email.Provider = "resend"
	}
	if c.Email.BatchSize == 0 {
		c.Email.BatchSize = 5
	}
	if c.Email.BatchDelaySeconds == 0 {
		c.Email.BatchDelaySeconds = 30
	}
	if c.Notion.BaseURL == "" {
		c.Notion.BaseURL = "https://api.notion.com/v1"
	}
	if c.Notion.Version == "" {
		c.Notion.Version = "2022-06-28"
	}
	if c.Notion.TimeoutSeconds == 0 {
		c.Notion.TimeoutSeconds = 30
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "notion"
	}
	if c.Storage.DynamoDBTable == "" {
		c.Storage.DynamoDBTable = "prospectai"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.MaxMemoryMB == 0 {
		c.Cache.MaxMemoryMB = 100
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = ".cache"
	}
	if c.Cache.DefaultTTLSeconds == 0 {
		c.Cache.DefaultTTLSeconds = 3600
	}
	if c.Workers.MaxWorkers == 0 {
		c.Workers.MaxWorkers = 3
	}
	if c.Workers.BatchSize == 0 {
		c.Workers.BatchSize = 5
	}
	if c.Workers.DelayBetweenBatchesSeconds == 0 {
		c.Workers.DelayBetweenBatchesSeconds = 30
	}
	if c.Workers.StageTimeoutSeconds == 0 {
		c.Workers.StageTimeoutSeconds = 120
	}
	if c.Workers.MaxRetries == 0 {
		c.Workers.MaxRetries = 3
	}
	if c.Workers.QueueCapacity == 0 {
		c.Workers.QueueCapacity = 32
	}
	if c.Controls.CheckIntervalSeconds == 0 {
		c.Controls.CheckIntervalSeconds = 30
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.RateLimits == nil {
		c.RateLimits = map[string]RateLimitConfig{}
	}
	defaults := map[string]RateLimitConfig{
		"producthunt": {PerMinute: 30},
		"scraping":    {PerMinute: 120, MinIntervalMS: c.Scraping.DelayMS},
		"search":      {PerMinute: 10},
		"hunter":      {PerMinute: 10, PerDay: 500},
		"openai":      {PerMinute: 60},
		"azure":       {PerMinute: 60},
		"anthropic":   {PerMinute: 50},
		"gemini":      {PerMinute: 60},
		"bedrock":     {PerMinute: 60},
		"notion":      {PerMinute: 180},
		"resend":      {PerMinute: 120},
		"ses":         {PerMinute: 600},
	}
	for name, def := range defaults {
		if _, ok := c.RateLimits[name]; !ok {
			c.RateLimits[name] = def
		}
	}
}

// HunterEnabled reports whether the email-finder adapter is usable.
func (c *Config) HunterEnabled() bool { return c.Hunter.APIKey != "" }

// SendEnabled reports whether the delivery adapter is usable.
func (c *Config) SendEnabled() bool {
	switch c.Email.Provider {
	case "ses":
		return true // credential chain may supply keys
	default:
		return c.Resend.APIKey != ""
	}
}

// AIEnabled reports whether any AI feature can run with the selected backend.
func (c *Config) AIEnabled() bool {
	switch c.AI.Backend {
	case "openai":
		return c.OpenAI.APIKey != ""
	case "azure":
		return c.AzureOpenAI.APIKey != "" && c.AzureOpenAI.Endpoint != ""
	case "anthropic":
		return c.Anthropic.APIKey != ""
	case "gemini":
		return c.Gemini.APIKey != ""
	case "bedrock":
		return true // credential chain may supply keys
	}
	return false
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
