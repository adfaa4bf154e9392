package bootstrap

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/core/budget"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/core/retrieval"
	"github.com/kirillkom/docqa-orchestrator/internal/core/summarize"
	"github.com/kirillkom/docqa-orchestrator/internal/core/usecase"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/index/qdrant"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/llm/langchain"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/tokenizer/tiktoken"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

type App struct {
	Config   config.Config
	Settings domain.AISettings

	Queue        *nats.Queue
	Runs         *usecase.RunLog
	Orchestrator *usecase.Orchestrator
	HTTPMetrics  *metrics.HTTPServerMetrics

	closers []func()
}

// New wires the full service: run store, queue and the query pipeline.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg}
	if err := app.openRunStore(ctx, logger); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.openQueue(cfg, logger); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildPipeline(cfg, app.Queue, logger); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// NewWorker wires only what the run recorder consumes.
func NewWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg}
	if err := app.openRunStore(ctx, logger); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.openQueue(cfg, logger); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// NewQueryOnly wires the query pipeline without persistence, for local use.
func NewQueryOnly(cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg}
	if err := app.buildPipeline(cfg, nil, logger); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) openRunStore(ctx context.Context, logger *zap.Logger) error {
	db, err := postgres.OpenDB(ctx, a.Config.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	repo := postgres.NewRunRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.Runs = usecase.NewRunLog(repo, logger.Named("runs"))
	return nil
}

func (a *App) openQueue(cfg config.Config, logger *zap.Logger) error {
	queueLogger := logger.Named("nats")
	queue, err := nats.Connect(cfg.NATSURL, nats.Options{
		Subject:            cfg.NATSSubject,
		QueueGroup:         cfg.NATSQueue,
		ResilienceExecutor: resilience.NewExecutor(resilience.ConfigFor(resilience.UpstreamQueue), queueLogger),
		Logger:             queueLogger,
	})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	a.closers = append(a.closers, queue.Close)
	a.Queue = queue
	return nil
}

func (a *App) buildPipeline(cfg config.Config, publisher usecase.RunPublisher, logger *zap.Logger) error {
	settings, err := config.LoadAISettings(cfg.AISettingsFile)
	if err != nil {
		return fmt.Errorf("load ai settings: %w", err)
	}
	a.Settings = settings

	indexLogger := logger.Named("qdrant")
	client, err := qdrant.Dial(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey)
	if err != nil {
		return fmt.Errorf("init search index: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	index := qdrant.New(client, qdrant.Config{
		Collection:   cfg.QdrantCollection,
		DenseVector:  cfg.QdrantDenseVector,
		SparseVector: cfg.QdrantSparseVector,
		Fusion:       qdrant.FusionStrategy(cfg.RAGFusionStrategy),
		RRFK:         cfg.RAGFusionRRFK,
	}, resilience.NewExecutor(resilience.ConfigFor(resilience.UpstreamIndex), indexLogger), indexLogger)

	llmLogger := logger.Named("llm")
	model, embedClient, err := langchain.NewModels(langchain.ProviderConfig{
		Provider:         cfg.LLMProvider,
		OllamaURL:        cfg.OllamaURL,
		OllamaGenModel:   cfg.OllamaGenModel,
		OllamaEmbedModel: cfg.OllamaEmbedModel,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIGenModel:   cfg.OpenAIGenModel,
		OpenAIEmbedModel: cfg.OpenAIEmbedModel,
	})
	if err != nil {
		return fmt.Errorf("init language model: %w", err)
	}
	llmExecutor := resilience.NewExecutor(resilience.ConfigFor(resilience.UpstreamLLM), llmLogger)

	embedder, err := buildEmbedder(embedClient, llmExecutor, cfg.EmbedCacheSize, llmLogger)
	if err != nil {
		return err
	}

	tokenizer, err := tiktoken.New("")
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}
	evaluator := budget.NewEvaluator(tokenizer)

	a.HTTPMetrics = metrics.NewHTTPServerMetrics("api")
	observer := metrics.NewOrchestratorMetrics(a.HTTPMetrics.Registry(), "api")
	generator := usecase.ObserveGenerator(langchain.NewGenerator(model, llmExecutor, llmLogger), observer)

	engine, err := summarize.NewEngine(generator, evaluator, settings.MaxConcurrency, logger.Named("summarize"))
	if err != nil {
		return fmt.Errorf("init summarize engine: %w", err)
	}
	a.closers = append(a.closers, engine.Close)

	deps := usecase.Dependencies{
		AllChunks:  retrieval.NewAllChunksRetriever(index),
		Hybrid:     retrieval.NewParameterisedRetriever(index, retrieval.ParamsFromSettings(settings)),
		Metadata:   retrieval.NewMetadataRetriever(index),
		Embedder:   embedder,
		Generator:  generator,
		Evaluator:  evaluator,
		Summarizer: engine,
		Settings:   settings,
		Publisher:  publisher,
		Observer:   observer,
		Logger:     logger.Named("orchestrator"),
	}
	a.Orchestrator = usecase.NewOrchestrator(deps)
	return nil
}

func buildEmbedder(client embeddings.EmbedderClient, executor *resilience.Executor, cacheSize int, logger *zap.Logger) (ports.Embedder, error) {
	embedder, err := langchain.NewEmbedder(client, executor, logger)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cacheSize <= 0 {
		return embedder, nil
	}
	cached, err := langchain.NewCachedEmbedder(embedder, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return cached, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
