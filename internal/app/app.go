package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/iago/link-collector-back/internal/ai"
	"github.com/iago/link-collector-back/internal/cache"
	"github.com/iago/link-collector-back/internal/config"
	"github.com/iago/link-collector-back/internal/extract"
	httpserver "github.com/iago/link-collector-back/internal/http"
	"github.com/iago/link-collector-back/internal/http/handlers"
	"github.com/iago/link-collector-back/internal/offload"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/quota"
	"github.com/iago/link-collector-back/internal/repository"
	"github.com/iago/link-collector-back/internal/service"
	"github.com/iago/link-collector-back/internal/video"
	"github.com/iago/link-collector-back/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the application context built once per process. Nothing in the
// service graph reads globals; everything hangs off this struct.
type App struct {
	Config     config.Config
	Logger     *log.Logger
	Repo       repository.JobsRepository
	Producer   queue.Producer
	Consumer   queue.Consumer
	Jobs       *service.JobsService
	Summarizer *service.SummarizationService
	Processor  *worker.Processor
	Quota      quota.Gate

	// Distributed is false when jobs live in process memory, in which case
	// the API and worker must share one process.
	Distributed bool

	closers []func()
}

// New wires stores, queue, extractors, summarizer and dispatcher. Store and
// queue backends that fail to initialize fall back to in-memory versions.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Printf("redis unreachable addr=%s, using in-process fallbacks: %v", cfg.RedisAddr, err)
			_ = client.Close()
		} else {
			redisClient = client
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	pgPool := a.setupRepository(ctx, redisClient)
	a.setupQueue(ctx, redisClient)

	gate, err := a.setupQuota(ctx, pgPool)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Quota = gate
	a.Jobs = service.NewJobsService(a.Repo, a.Producer, a.Logger)

	pool := offload.NewPool(cfg.OffloadWorkers)
	a.Summarizer = a.buildSummarizer()
	a.Processor = worker.NewProcessor(worker.Dependencies{
		Consumer:    a.Consumer,
		Repo:        a.Repo,
		Web:         a.buildWebExtractor(pool),
		Video:       a.buildVideoExtractor(pool),
		Summarizer:  a.Summarizer,
		JobTimeout:  cfg.JobTimeout,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	})
	return a, nil
}

// Handler builds the HTTP gateway.
func (a *App) Handler() http.Handler {
	api := handlers.NewAPI(handlers.APIDependencies{
		Jobs:   a.Jobs,
		Quota:  a.Quota,
		Logger: a.Logger,
	})
	return httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         a.Logger,
		AuthToken:      a.Config.AuthToken,
		CORSOrigins:    a.Config.CORSAllowedOrigins,
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) setupRepository(ctx context.Context, redisClient *redis.Client) *pgxpool.Pool {
	cfg := a.Config
	switch cfg.ResolvedJobStore() {
	case "postgres":
		pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
			break
		}
		a.Logger.Printf("postgres repository initialized")
		a.Repo = pgRepo
		a.Distributed = true
		a.closers = append(a.closers, pgRepo.Close)
		return pgRepo.Pool()
	case "redis":
		if redisClient == nil {
			a.Logger.Printf("JOB_STORE=redis without a reachable redis, fallback to memory")
			break
		}
		a.Repo = repository.NewRedisJobsRepository(redisClient, repository.RedisJobsConfig{Retention: cfg.JobRetention})
		a.Distributed = true
		a.Logger.Printf("redis repository initialized retention=%s", cfg.JobRetention)
		return nil
	}

	a.Logger.Printf("using in-memory job repository")
	a.Repo = repository.NewMemoryJobsRepository()
	return nil
}

func (a *App) setupQueue(ctx context.Context, redisClient *redis.Client) {
	if redisClient != nil {
		streams, err := queue.NewStreamsQueue(ctx, redisClient, queue.StreamsConfig{
			Stream:    a.Config.RedisStream,
			DLQStream: a.Config.RedisDLQ,
			Group:     a.Config.RedisGroup,
			Consumer:  a.Config.RedisConsumer,
			ClaimIdle: a.Config.RedisClaimIdle,
		}, a.Logger)
		if err == nil {
			a.Logger.Printf("redis streams queue initialized stream=%s group=%s consumer=%s", a.Config.RedisStream, a.Config.RedisGroup, a.Config.RedisConsumer)
			a.Producer = streams
			a.Consumer = streams
			return
		}
		a.Logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
	} else {
		a.Logger.Printf("REDIS_ADDR not configured, using local queue fallback")
	}

	local := queue.NewLocalQueue(512, a.Logger)
	a.Producer = local
	a.Consumer = local
	a.Distributed = false
	a.closers = append(a.closers, func() { a.reportDeadLetters(local) })
}

// reportDeadLetters logs the in-process dead letters, which do not outlive
// the process.
func (a *App) reportDeadLetters(local *queue.LocalQueue) {
	if local.DLQSize() == 0 {
		return
	}
	for _, letter := range local.DeadLetters() {
		a.Logger.Printf("local queue dead letter job_id=%s url=%s err=%s", letter.Message.JobID, letter.Message.URL, letter.Error)
	}
}

func (a *App) setupQuota(ctx context.Context, pgPool *pgxpool.Pool) (quota.Gate, error) {
	cfg := a.Config
	switch {
	case cfg.DatabaseURL != "":
		if pgPool == nil {
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("create quota pg pool: %w", err)
			}
			a.closers = append(a.closers, pool.Close)
			pgPool = pool
		}
		store, err := quota.NewPostgresStore(ctx, pgPool)
		if err != nil {
			return nil, err
		}
		a.Logger.Printf("quota gate backed by postgres")
		return quota.NewChecker(store, a.Logger), nil
	case cfg.QuotaSQLitePath != "":
		store, err := quota.OpenSQLiteStore(cfg.QuotaSQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Logger.Printf("quota gate backed by sqlite path=%s", cfg.QuotaSQLitePath)
		return quota.NewChecker(store, a.Logger), nil
	default:
		a.Logger.Printf("no quota store configured, every request gets the demo profile")
		return quota.Allow{}, nil
	}
}

func (a *App) buildSummarizer() *service.SummarizationService {
	cfg := a.Config

	defaultBackend := ai.DefaultBackend(cfg.OpenAIAPIKey)
	overrideBackend(&defaultBackend, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	lowCostBackend := ai.LowCostBackend(cfg.GeminiAPIKey)
	overrideBackend(&lowCostBackend, cfg.GeminiBaseURL, cfg.GeminiModel)

	breakerConfig := ai.BreakerConfig{Logger: a.Logger}
	router := ai.NewBackendRouter(ai.BackendRouterConfig{
		Default:   ai.NewBreakerGenerator(a.chatClient(defaultBackend), breakerConfig),
		LowCost:   ai.NewBreakerGenerator(a.chatClient(lowCostBackend), breakerConfig),
		Threshold: cfg.LowCostThreshold,
	})
	if defaultBackend.APIKey == "" {
		a.Logger.Printf("OPENAI_API_KEY not configured, summaries routed to the default backend will use the stub")
	}

	return service.NewSummarizationService(service.SummarizationDependencies{
		Router: router,
		Cache: cache.NewSummaryCache(cache.Config{
			TTL:        cfg.SummaryCacheTTL,
			MaxEntries: cfg.SummaryCacheMaxEntries,
		}),
		Temperature:     cfg.LLMTemperature,
		MaxOutputTokens: cfg.LLMMaxTokens,
		Logger:          a.Logger,
	})
}

func (a *App) chatClient(backend ai.Backend) *ai.ChatClient {
	return ai.NewChatClient(ai.ChatClientConfig{
		Backend:    backend,
		Timeout:    a.Config.LLMTimeout,
		MaxRetries: a.Config.LLMMaxRetries,
	})
}

func overrideBackend(backend *ai.Backend, baseURL, model string) {
	if strings.TrimSpace(baseURL) != "" {
		backend.BaseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	}
	if strings.TrimSpace(model) != "" {
		backend.Model = strings.TrimSpace(model)
	}
}

func (a *App) buildWebExtractor(pool *offload.Pool) *extract.Extractor {
	cfg := a.Config
	var renderer extract.Renderer
	if cfg.RenderEnabled {
		renderer = extract.NewChromeRenderer(extract.ChromeRendererConfig{
			ProxyURL: cfg.ProxyURL,
			ExecPath: cfg.RenderChromePath,
		})
	}
	return extract.NewExtractor(extract.Dependencies{
		Fetcher: extract.NewStaticFetcher(extract.StaticFetcherConfig{
			Timeout:  cfg.FetchTimeout,
			MaxTries: uint(max(cfg.FetchMaxTries, 1)),
		}),
		Renderer: renderer,
		Scraper: extract.NewFirecrawlClient(extract.FirecrawlConfig{
			APIKey:  cfg.FirecrawlAPIKey,
			BaseURL: cfg.FirecrawlBaseURL,
			Timeout: cfg.FirecrawlTimeout,
		}),
		Pool:   pool,
		Logger: a.Logger,
	})
}

func (a *App) buildVideoExtractor(pool *offload.Pool) *video.Extractor {
	cfg := a.Config
	ytdlp := video.NewYTDLP(video.YTDLPConfig{
		Binary:          cfg.YTDLPBinary,
		DownloadDir:     cfg.DownloadDir,
		ProxyURL:        cfg.ProxyURL,
		DownloadTimeout: cfg.YTDLPTimeout,
		MetadataTimeout: cfg.YTDLPMetaTimeout,
		Runner:          video.ExecRunner{Logger: a.Logger},
	})

	var transcriber video.Transcriber
	groq := ai.NewGroqTranscriber(ai.GroqTranscriberConfig{
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.GroqBaseURL,
		Model:   cfg.GroqModel,
		Timeout: cfg.TranscriptionTimeout,
	})
	if groq.Available() {
		transcriber = groq
	} else {
		a.Logger.Printf("GROQ_API_KEY not configured, audio transcription tier disabled")
	}

	return video.NewExtractor(video.Dependencies{
		Transcripts: video.NewInnertubeTranscripts(video.InnertubeConfig{
			Languages: cfg.TranscriptLanguages,
			Timeout:   cfg.TranscriptTimeout,
		}),
		Audio:       ytdlp,
		Metadata:    ytdlp,
		Transcriber: transcriber,
		Pool:        pool,
		Logger:      a.Logger,
	})
}

// ErrLocalOnly is returned by RunWorker when jobs are not shared between
// processes, so a standalone worker would never see them.
var ErrLocalOnly = errors.New("job store and queue are in-process; run the worker inside the api")

// RunWorker runs the dispatcher until ctx is done.
func (a *App) RunWorker(ctx context.Context, standalone bool) error {
	if standalone && !a.Distributed {
		return ErrLocalOnly
	}
	a.Logger.Printf("worker started concurrency=%d job_timeout=%s", a.Config.WorkerConcurrency, a.Config.JobTimeout)
	a.Processor.Start(ctx)
	a.Logger.Printf("worker stopped")
	return nil
}
