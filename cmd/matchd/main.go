package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oaguiar/incmatch/internal/auth"
	"github.com/oaguiar/incmatch/internal/budget"
	"github.com/oaguiar/incmatch/internal/config"
	"github.com/oaguiar/incmatch/internal/embedder"
	"github.com/oaguiar/incmatch/internal/judge"
	"github.com/oaguiar/incmatch/internal/llm"
	"github.com/oaguiar/incmatch/internal/matching"
	"github.com/oaguiar/incmatch/internal/repository"
	"github.com/oaguiar/incmatch/internal/repository/postgres"
	"github.com/oaguiar/incmatch/internal/server"
	"github.com/oaguiar/incmatch/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting matching service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	incentiveRepo := postgres.NewIncentiveRepo(db)
	companyRepo := postgres.NewCompanyRepo(db)

	embed, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	slog.Info("initialized embedder", "provider", cfg.EmbeddingProvider, "model", embed.ModelName())

	engineOpts := []matching.Option{
		matching.WithEmbedder(embed),
		matching.WithLogger(slog.Default()),
		matching.WithDefaults(matching.Defaults{
			Weights: matching.Weights{
				Vector:   cfg.WeightVector,
				Lexical:  cfg.WeightLexical,
				Semantic: cfg.WeightSemantic,
			},
			ShortlistSize:  cfg.ShortlistSize,
			RerankPoolSize: cfg.RerankPoolSize,
		}),
		matching.WithVectorRetrieval(cfg.VectorTopM, cfg.VectorMinSim),
		matching.WithDefaultBudget(cfg.RequestBudget),
	}
	if cfg.ResultCacheTTL > 0 {
		engineOpts = append(engineOpts, matching.WithResultCache(cfg.ResultCacheTTL))
	}

	// Optional external vector store; snapshot-local cosine otherwise.
	if cfg.QdrantGRPCURL != "" {
		store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer store.Close()
		if err := store.EnsureCollection(ctx, embed.Dimension()); err != nil {
			return fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}

		// Seed the collection from the current population so retrieval is
		// ready before the first request.
		snapshot, err := companyRepo.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load company snapshot: %w", err)
		}
		if err := store.UpsertCompanies(ctx, snapshot.Companies); err != nil {
			return fmt.Errorf("failed to index company embeddings: %w", err)
		}

		engineOpts = append(engineOpts, matching.WithRetriever(store))
		slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection, "companies", len(snapshot.Companies))
	}

	// Semantic judge, unless disabled.
	if cfg.JudgeProvider != "none" {
		judgeClient, model, err := buildJudgeLLM(cfg)
		if err != nil {
			return err
		}

		cache := judge.NewCache(cfg.JudgeCacheTTL)
		defer cache.Close()

		llmJudge, err := judge.NewLLMJudge(judgeClient, cfg.JudgeConcurrency,
			judge.WithModel(model),
			judge.WithCache(cache),
			judge.WithCallTimeout(cfg.JudgeCallTimeout),
			judge.WithPricing(budget.DefaultPricing),
			judge.WithLogger(slog.Default()),
		)
		if err != nil {
			return fmt.Errorf("failed to create judge: %w", err)
		}
		defer llmJudge.Close()

		engineOpts = append(engineOpts, matching.WithJudge(llmJudge))
		slog.Info("initialized semantic judge", "provider", cfg.JudgeProvider, "model", model)
	}

	engine := matching.NewEngine(incentiveRepo, companyRepo, engineOpts...)

	// Auth is enabled when API keys are configured.
	var authenticator *auth.Authenticator
	if keys := cfg.APIKeyMap(); len(keys) > 0 {
		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Expiry = cfg.JWTExpiry
		authenticator = auth.NewAuthenticator(keys, auth.NewJWTManager(jwtCfg))
	} else {
		slog.Warn("no API keys configured, API is unauthenticated")
	}

	handler := server.NewHandler(incentiveRepo, companyRepo, engine, slog.Default())
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		Authenticator:  authenticator,
		ReadyCheck:     db.Pool.Ping,
	}, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIEmbeddingModel,
		})
	case "ollama":
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func buildJudgeLLM(cfg *config.Config) (llm.LLM, string, error) {
	switch cfg.JudgeProvider {
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, llm.WithOpenAIModel(cfg.JudgeModel))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, cfg.JudgeModel, nil
	case "ollama":
		client := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaJudgeModel),
		)
		return client, cfg.OllamaJudgeModel, nil
	default:
		return nil, "", fmt.Errorf("unknown judge provider %q", cfg.JudgeProvider)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.IncentiveRepository = (*postgres.IncentiveRepo)(nil)
	_ repository.CompanyRepository   = (*postgres.CompanyRepo)(nil)
	_ vectorstore.Retriever          = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder              = (*embedder.OpenAIEmbedder)(nil)
	_ llm.LLM                        = (*llm.OpenAIClient)(nil)
	_ judge.Judge                    = (*judge.LLMJudge)(nil)
)
