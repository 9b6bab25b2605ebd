package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/chat-archive-insights/internal/config"
	"github.com/kirillkom/chat-archive-insights/internal/core/intent"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/core/retrieval"
	"github.com/kirillkom/chat-archive-insights/internal/core/usecase"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/queue/nats"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/rubric"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/vector/qdrant"
)

// Options carries process-specific hooks. Every field may be left zero.
type Options struct {
	Observer      usecase.AskObserver
	OnRateLimited func(operation string)
	// Resilience receives retry and breaker transitions from every executor.
	Resilience resilience.Observer
	// RequireEvents connects to NATS even when NATS_ENABLED is false.
	RequireEvents bool
}

type App struct {
	Config config.Config

	DB         *sql.DB
	LLM        *ollama.Client
	Classifier intent.Classifier
	Queries    *postgres.QueryRepository
	Rubrics    *postgres.RubricRepository
	// Events is nil when event publishing is disabled.
	Events *nats.Publisher
	// Indexer is nil unless the chunk store accepts writes from this process.
	Indexer ports.ChunkIndexer
	AskUC   *usecase.AskUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storeExec := resilience.NewExecutor(storeResilience(cfg), executorOptions(opts)...)

	var events *nats.Publisher
	if cfg.NATSEnabled || opts.RequireEvents {
		events, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: storeExec})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
	}

	fallbackRubric, err := rubric.NewStore(cfg.RubricPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load rubric: %w", err)
	}

	client := NewLLMClient(ctx, cfg, opts)
	embedder, err := ollama.NewCachedEmbedder(client, cfg.EmbedCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	classifier := NewClassifier(client)

	chunks, indexer, err := newChunkStore(cfg, db, storeExec)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	queries := postgres.NewQueryRepository(db)
	rubrics := postgres.NewRubricRepository(db, fallbackRubric)

	hybridCfg := retrieval.DefaultHybridConfig()
	if cfg.VectorCandidates > 0 {
		hybridCfg.VectorLimit = cfg.VectorCandidates
	}
	if cfg.TextCandidates > 0 {
		hybridCfg.TextLimit = cfg.TextCandidates
	}
	retriever := retrieval.NewHybridRetriever(chunks, hybridCfg)

	var publisher ports.EventPublisher
	if events != nil {
		publisher = events
	}
	askUC := usecase.NewAskUseCase(
		classifier,
		embedder,
		retriever,
		client,
		rubrics,
		queries,
		publisher,
		opts.Observer,
		askOptions(cfg),
	)

	return &App{
		Config:     cfg,
		DB:         db,
		LLM:        client,
		Classifier: classifier,
		Queries:    queries,
		Rubrics:    rubrics,
		Events:     events,
		Indexer:    indexer,
		AskUC:      askUC,
		closeFn: func() {
			if events != nil {
				events.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// newChunkStore picks the search backend. Queries, evaluations and rubrics stay in Postgres either way.
func newChunkStore(cfg config.Config, db *sql.DB, exec *resilience.Executor) (ports.ChunkStore, ports.ChunkIndexer, error) {
	switch cfg.ChunkStore {
	case "", "postgres":
		return postgres.NewChunkStore(db, exec), nil, nil
	case "qdrant":
		store := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, exec)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown chunk store %q", cfg.ChunkStore)
	}
}

// NewLLMClient builds the generation client. It needs no database and serves the lighter CLI commands.
func NewLLMClient(ctx context.Context, cfg config.Config, opts Options) *ollama.Client {
	llmResilience := resilience.DefaultConfig()
	llmResilience.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	llmResilience.BreakerEnabled = cfg.ResilienceBreakerEnabled
	llmResilience.CallTimeout = time.Duration(cfg.LLMCallTimeoutSeconds) * time.Second

	return ollama.New(ollama.Config{
		BaseURL:           cfg.OllamaURL,
		GenModel:          cfg.OllamaGenModel,
		EmbedModel:        cfg.OllamaEmbedModel,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
		TokenSource: ollama.NewTokenSource(ctx, ollama.AuthConfig{
			StaticToken:  cfg.LLMAuthToken,
			ClientID:     cfg.LLMAuthClientID,
			ClientSecret: cfg.LLMAuthClientSecret,
			TokenURL:     cfg.LLMAuthTokenURL,
			Scopes:       cfg.LLMAuthScopes,
		}),
		Executor:      resilience.NewExecutor(llmResilience, executorOptions(opts)...),
		OnRateLimited: opts.OnRateLimited,
	})
}

// NewClassifier puts the pattern tables behind the model-backed classifier.
func NewClassifier(generator ports.Generator) intent.Classifier {
	return intent.NewFallbackClassifier(
		intent.NewLLMClassifier(generator),
		intent.NewPatternClassifier(),
		intent.NewLLMSubjectExtractor(generator),
	)
}

func executorOptions(opts Options) []resilience.Option {
	if opts.Resilience == nil {
		return nil
	}
	return []resilience.Option{resilience.WithObserver(opts.Resilience)}
}

func storeResilience(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	out.CallTimeout = time.Duration(cfg.StoreCallTimeoutSeconds) * time.Second
	return out
}

func askOptions(cfg config.Config) usecase.AskOptions {
	opts := usecase.DefaultAskOptions()
	opts.Timeout = time.Duration(cfg.AskTimeoutSeconds) * time.Second
	opts.MaxAnswerTokens = cfg.AskMaxAnswerTokens
	opts.AnswerTemperature = cfg.AnswerTemperature
	opts.EvaluationTemperature = cfg.EvaluationTemperature
	opts.DedupeThreshold = cfg.DedupeThreshold
	if cfg.MMRLambda > 0 && cfg.MMRLambda <= 1 {
		opts.Profiles.Default.Lambda = cfg.MMRLambda
		opts.Profiles.TimeWindow.Lambda = cfg.MMRLambda
		opts.Profiles.Evaluation.Lambda = cfg.MMRLambda
	}
	if cfg.MMRMaxResults > 0 {
		opts.Profiles.Default.MaxResults = cfg.MMRMaxResults
	}
	return opts
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
