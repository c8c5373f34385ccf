package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pinforge/internal/adapter/repo"
	"pinforge/internal/domain"
	httpapi "pinforge/internal/http"
	"pinforge/internal/http/handlers"
	"pinforge/internal/infra"
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

	ctx := context.Background()
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

	runs := repo.NewRunRepository(dbpool)
	items := repo.NewItemRepository(dbpool)
	bulkRuns := repo.NewBulkRunRepository(dbpool)
	bulkRows := repo.NewBulkRowRepository(dbpool)
	bulkPins := repo.NewBulkPinRepository(dbpool)
	creds := repo.NewCredentialRepository(dbpool)
	templates := repo.NewTemplateRepository(dbpool)

	// The API only needs the pipeline for synchronous template swaps; run
	// execution happens on the worker.
	renderer := render.New(render.Options{Logger: logger})
	pipe := pipeline.New(pipeline.Deps{
		Runs:        runs,
		Items:       items,
		BulkRuns:    bulkRuns,
		BulkRows:    bulkRows,
		BulkPins:    bulkPins,
		Credentials: creds,
		Prompts:     creds,
		Templates:   templates,
		Chat:        chat.NewClient(chat.Options{Logger: logger}),
		NewGenerator: func(cred domain.Credential) (imagegen.Generator, error) {
			return imagegen.New(cred, imagegen.Options{Logger: logger})
		},
		Download: func(ctx context.Context, url string) ([]byte, error) {
			return imagegen.Download(ctx, http.DefaultClient, url)
		},
		Renderer: renderer,
		Store:    store,
		RandIntn: rand.Intn,
		Logger:   logger,
	})

	app := &handlers.App{
		Runs:      runs,
		Items:     items,
		BulkRuns:  bulkRuns,
		BulkRows:  bulkRows,
		BulkPins:  bulkPins,
		Templates: templates,
		Queue:     queue.New(rdb),
		Changer:   pipe,
		Store:     store,
		Logger:    logger,
	}

	router := httpapi.NewRouter(app, logger, cfg.AllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
