package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/cache"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/docstore"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extraction"
	"github.com/fyrsmithlabs/corpusd/internal/generation"
	corpushttp "github.com/fyrsmithlabs/corpusd/internal/http"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/orchestrator"
	"github.com/fyrsmithlabs/corpusd/internal/telemetry"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the corpusd server",
	Long: `Start the corpusd HTTP server.

Configuration comes from an optional YAML file overridden by
CORPUSD_* environment variables.

Examples:
  # Defaults: embedded vector store, no cache, no generation
  corpusd serve

  # With a config file
  corpusd serve --config /etc/corpusd/config.yaml

  # Qdrant backend via environment
  CORPUSD_VECTORSTORE_BACKEND=qdrant corpusd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background()) //nolint:errcheck

	pipeline, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := corpushttp.NewServer(pipeline, logger, &corpushttp.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildPipeline(cfg *config.Config, logger *zap.Logger) (*orchestrator.Pipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*orchestrator.Pipeline, func(), error) {
		cleanup()
		return nil, nil, err
	}

	embedService, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey.Value(),
		Timeout: cfg.Embeddings.Timeout.Duration(),
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create embedding service: %w", err))
	}

	batcher, err := embeddings.NewBatchProcessor(embedService, embeddings.BatchConfig{
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create batch processor: %w", err))
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create vector store: %w", err))
	}
	closers = append(closers, func() { store.Close() }) //nolint:errcheck

	documents, err := docstore.New(cfg.DocStore.Path, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to open document store: %w", err))
	}
	closers = append(closers, func() { documents.Close() }) //nolint:errcheck

	splitter, err := chunker.New(chunker.Config{
		TargetSize: cfg.Chunking.TargetSize,
		Overlap:    cfg.Chunking.Overlap,
	})
	if err != nil {
		return fail(err)
	}

	var resultCache cache.ResultCache = cache.NoopCache{}
	if cfg.Cache.Enabled {
		redisCache := cache.NewRedisCache(cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password.Value(),
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL.Duration(),
		}, logger)
		closers = append(closers, func() { redisCache.Close() }) //nolint:errcheck
		resultCache = redisCache
	}

	var generator orchestrator.Generator
	if cfg.Generation.Enabled {
		opts := []openai.Option{
			openai.WithToken(cfg.Generation.APIKey.Value()),
		}
		if cfg.Generation.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Generation.Model))
		}
		if cfg.Generation.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Generation.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return fail(fmt.Errorf("failed to create generation model: %w", err))
		}
		generator, err = generation.NewClient(model, generation.Config{
			MaxTokens:         cfg.Generation.MaxTokens,
			Temperature:       cfg.Generation.Temperature,
			RequestsPerSecond: cfg.Generation.RequestsPerSecond,
		}, logger)
		if err != nil {
			return fail(err)
		}
	}

	pipeline, err := orchestrator.NewPipeline(orchestrator.Deps{
		Extractor:     extraction.NewService(logger),
		Chunker:       splitter,
		Embedder:      batcher,
		QueryEmbedder: embedService,
		Store:         store,
		Documents:     documents,
		Cache:         resultCache,
		Generator:     generator,
	}, logger)
	if err != nil {
		return fail(err)
	}
	return pipeline, cleanup, nil
}

func buildStore(cfg *config.Config, logger *zap.Logger) (vectorstore.ChunkStore, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Host,
			Port:       cfg.VectorStore.Port,
			APIKey:     cfg.VectorStore.APIKey.Value(),
			UseTLS:     cfg.VectorStore.UseTLS,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger)
	default:
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Path,
			Compress:   cfg.VectorStore.Compress,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger)
	}
}
