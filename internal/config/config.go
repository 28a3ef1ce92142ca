package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken string

	// JobStore selects the job store: memory, redis or postgres. Empty picks
	// postgres when DatabaseURL is set, then redis, then memory.
	JobStore        string
	JobRetention    time.Duration
	DatabaseURL     string
	QuotaSQLitePath string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisStream    string
	RedisDLQ       string
	RedisGroup     string
	RedisConsumer  string
	RedisClaimIdle time.Duration

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiModel      string
	LLMTimeout       time.Duration
	LLMMaxRetries    int
	LLMTemperature   float64
	LLMMaxTokens     int
	LowCostThreshold int

	GroqAPIKey           string
	GroqBaseURL          string
	GroqModel            string
	TranscriptionTimeout time.Duration

	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	FirecrawlTimeout time.Duration

	ProxyURL         string
	RenderEnabled    bool
	RenderChromePath string
	FetchTimeout     time.Duration
	FetchMaxTries    int

	YTDLPBinary         string
	YTDLPTimeout        time.Duration
	YTDLPMetaTimeout    time.Duration
	DownloadDir         string
	TranscriptLanguages []string
	TranscriptTimeout   time.Duration

	OffloadWorkers    int
	WorkerEnabled     bool
	WorkerConcurrency int
	JobTimeout        time.Duration

	SummaryCacheTTL        time.Duration
	SummaryCacheMaxEntries int

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		JobStore:        strings.ToLower(getEnv("JOB_STORE", "")),
		JobRetention:    time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)) * time.Hour,
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		QuotaSQLitePath: getEnv("QUOTA_SQLITE_PATH", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisStream:    getEnv("REDIS_STREAM", "lc_jobs"),
		RedisDLQ:       getEnv("REDIS_DLQ_STREAM", "lc_jobs_dlq"),
		RedisGroup:     getEnv("REDIS_GROUP", "lc_workers"),
		RedisConsumer:  getEnv("REDIS_CONSUMER", defaultConsumerName()),
		RedisClaimIdle: time.Duration(getEnvInt("REDIS_CLAIM_IDLE_SECONDS", 300)) * time.Second,

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", ""),
		LLMTimeout:       getEnvMillis("LLM_TIMEOUT_MS", 60000),
		LLMMaxRetries:    getEnvInt("LLM_MAX_RETRIES", 2),
		LLMTemperature:   getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:     getEnvInt("LLM_MAX_OUTPUT_TOKENS", 2048),
		LowCostThreshold: getEnvInt("LOW_COST_THRESHOLD_CHARS", 10000),

		GroqAPIKey:           getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:          getEnv("GROQ_BASE_URL", ""),
		GroqModel:            getEnv("GROQ_MODEL", "whisper-large-v3"),
		TranscriptionTimeout: getEnvMillis("GROQ_TIMEOUT_MS", 300000),

		FirecrawlAPIKey:  getEnv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", ""),
		FirecrawlTimeout: getEnvMillis("FIRECRAWL_TIMEOUT_MS", 60000),

		ProxyURL:         getEnv("PROXY_SERVER_URL", ""),
		RenderEnabled:    getEnvBool("RENDER_ENABLED", true),
		RenderChromePath: getEnv("RENDER_CHROME_PATH", ""),
		FetchTimeout:     getEnvMillis("FETCH_TIMEOUT_MS", 15000),
		FetchMaxTries:    getEnvInt("FETCH_MAX_TRIES", 3),

		YTDLPBinary:         getEnv("YTDLP_BINARY", "yt-dlp"),
		YTDLPTimeout:        getEnvMillis("YTDLP_TIMEOUT_MS", 600000),
		YTDLPMetaTimeout:    getEnvMillis("YTDLP_METADATA_TIMEOUT_MS", 30000),
		DownloadDir:         getEnv("DOWNLOAD_DIR", "downloads"),
		TranscriptLanguages: getEnvList("TRANSCRIPT_LANGS", []string{"en", "pt", "es"}),
		TranscriptTimeout:   getEnvMillis("TRANSCRIPT_TIMEOUT_MS", 20000),

		OffloadWorkers:    getEnvInt("OFFLOAD_WORKERS", 4),
		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		JobTimeout:        time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 900)) * time.Second,

		SummaryCacheTTL:        time.Duration(getEnvInt("SUMMARY_CACHE_TTL_SECONDS", 21600)) * time.Second,
		SummaryCacheMaxEntries: getEnvInt("SUMMARY_CACHE_MAX_ENTRIES", 1000),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

// ResolvedJobStore applies the JobStore fallback order.
func (c Config) ResolvedJobStore() string {
	switch c.JobStore {
	case "memory", "redis", "postgres":
		return c.JobStore
	}
	if c.DatabaseURL != "" {
		return "postgres"
	}
	if c.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
