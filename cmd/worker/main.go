package main

import (
	"context"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pinforge/internal/adapter/repo"
	"pinforge/internal/domain"
	"pinforge/internal/infra"
	"pinforge/internal/notify"
	"pinforge/internal/pipeline"
	"pinforge/internal/providers/chat"
	"pinforge/internal/providers/imagegen"
	"pinforge/internal/queue"
	"pinforge/internal/render"
	"pinforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	httpClient := &http.Client{Timeout: 90 * time.Second}
	creds := repo.NewCredentialRepository(dbpool)

	pipe := pipeline.New(pipeline.Deps{
		Runs:        repo.NewRunRepository(dbpool),
		Items:       repo.NewItemRepository(dbpool),
		BulkRuns:    repo.NewBulkRunRepository(dbpool),
		BulkRows:    repo.NewBulkRowRepository(dbpool),
		BulkPins:    repo.NewBulkPinRepository(dbpool),
		Credentials: creds,
		Prompts:     creds,
		Templates:   repo.NewTemplateRepository(dbpool),
		Chat: chat.NewClient(chat.Options{
			HTTPClient:      httpClient,
			Logger:          logger,
			OpenAIBaseURL:   cfg.OpenAIBaseURL,
			GeminiBaseURL:   cfg.GeminiBaseURL,
			DeepSeekBaseURL: cfg.DeepSeekBaseURL,
		}),
		NewGenerator: func(cred domain.Credential) (imagegen.Generator, error) {
			return imagegen.New(cred, imagegen.Options{
				HTTPClient:      httpClient,
				Logger:          logger,
				LeonardoBaseURL: cfg.LeonardoBaseURL,
				OpenAIBaseURL:   cfg.OpenAIBaseURL,
				PollInterval:    cfg.PollInterval,
				PollAttempts:    cfg.PollAttempts,
			})
		},
		Download: func(ctx context.Context, url string) ([]byte, error) {
			return imagegen.Download(ctx, httpClient, url)
		},
		Renderer: render.New(render.Options{Logger: logger}),
		Store:    store,
		Notify:   notify.NewClient(cfg.NotifyURL, cfg.NotifyToken),
		RandIntn: rand.Intn,
		Logger:   logger,
	})

	tasks := queue.New(rdb)
	logger.Info().Msg("worker started")

	// Tasks run sequentially. Provider rate limits make one in-flight run
	// per worker the safe default; scale by adding worker processes.
	for {
		task, err := tasks.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch task.Kind {
		case queue.TaskKindRun:
			if err := pipe.ExecuteRun(ctx, task.RunID); err != nil {
				logger.Error().Err(err).Str("run_id", task.RunID).Msg("run execution failed")
			}
		case queue.TaskKindBulk:
			if err := pipe.ExecuteBulkRun(ctx, task.RunID); err != nil {
				logger.Error().Err(err).Str("run_id", task.RunID).Msg("bulk run execution failed")
			}
		default:
			logger.Warn().Str("kind", string(task.Kind)).Msg("unknown task kind")
		}
	}

	logger.Info().Msg("worker stopped")
}
