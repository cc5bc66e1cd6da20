// Package app assembles the question pipeline and its backends from the
// configuration. The server, the worker and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OFFIS-RIT/warehouse-risk/internal/config"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
	oai "github.com/OFFIS-RIT/warehouse-risk/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/warehouse-risk/pkg/ai/openai"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/answer"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/graph"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/pipeline"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
	neo4jstore "github.com/OFFIS-RIT/warehouse-risk/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/warehouse-risk/pkg/store/pgx"
)

// Source is what the pipeline reads the graph through.
type Source interface {
	query.GraphStore
	query.NameResolver
	query.NeighborhoodSource
}

type App struct {
	Config   config.Config
	Registry *schema.Registry
	Source   Source
	AI       ai.Client
	Metrics  *metrics.Metrics

	Engine   *risk.Engine
	Scores   *risk.Service
	Pipeline *pipeline.Orchestrator

	// Graph is the in-memory arena; nil for the neo4j backend.
	Graph *graph.Graph
	// Pool and Snapshots are set when DATABASE_URL is configured.
	Pool      *pgxpool.Pool
	Snapshots *pgxstore.SnapshotStore

	closers []func()
}

// Build wires the pipeline on top of src. A nil client yields templated
// answers and rule based question understanding only.
func Build(cfg config.Config, registry *schema.Registry, src Source, client ai.Client, m *metrics.Metrics) (*App, error) {
	engine, err := risk.NewEngine(cfg.Risk)
	if err != nil {
		return nil, err
	}
	scores := risk.NewService(engine, src, risk.WithMetrics(m), risk.WithWorkers(cfg.Limits.ScoreWorkers))

	synthOpts := []query.SynthesizerOption{query.WithNameResolver(src)}
	if client != nil {
		synthOpts = append(synthOpts, query.WithFallbackExtractor(query.NewModelExtractor(client, registry)))
	}
	synth := query.NewSynthesizer(registry, cfg.QueryConfig(), synthOpts...)
	exec := executor.New(src, registry, cfg.ExecutorConfig(), executor.WithDeriver(scores), executor.WithMetrics(m))
	answers := answer.New(client, engine, cfg.AnswerConfig(), answer.WithMetrics(m))

	return &App{
		Config:   cfg,
		Registry: registry,
		Source:   src,
		AI:       client,
		Metrics:  m,
		Engine:   engine,
		Scores:   scores,
		Pipeline: pipeline.New(synth, exec, scores, answers, cfg.PipelineConfig(), pipeline.WithMetrics(m)),
	}, nil
}

// Open connects the configured graph backend, Postgres and the language
// model, then builds the pipeline.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	registry := schema.Warehouse()
	m := metrics.New()

	var client ai.Client
	if cfg.AI.Enabled() {
		c, err := NewAIClient(cfg.AI)
		if err != nil {
			return nil, err
		}
		client = c
	} else {
		logger.Warn("[AI] No model configured, answers are templated")
	}

	var (
		closers   []func()
		pool      *pgxpool.Pool
		snapshots *pgxstore.SnapshotStore
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pool = p
		closers = append(closers, p.Close)
		snapshots = pgxstore.NewSnapshotStore(p, registry)
	}

	var (
		src Source
		g   *graph.Graph
	)
	switch cfg.GraphBackend {
	case config.BackendNeo4j:
		store, err := neo4jstore.Open(ctx, neo4jstore.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, registry)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = store.Close(context.Background()) })
		src = store
	case config.BackendPostgres:
		if snapshots == nil {
			closeAll()
			return nil, errors.New("postgres graph backend without DATABASE_URL")
		}
		g = graph.New(registry)
		if _, err := snapshots.Sync(ctx, g); err != nil {
			closeAll()
			return nil, err
		}
		src = g
	default:
		g = graph.New(registry)
		if _, err := g.Apply(ctx, graph.DemoBatch()); err != nil {
			closeAll()
			return nil, err
		}
		logger.Info("[Graph] Serving the built-in demo graph")
		src = g
	}

	a, err := Build(cfg, registry, src, client, m)
	if err != nil {
		closeAll()
		return nil, err
	}
	a.Graph = g
	a.Pool = pool
	a.Snapshots = snapshots
	a.closers = closers
	a.recordVersion(ctx)
	return a, nil
}

// Sync reloads the arena when Postgres holds a newer snapshot. Other
// backends are always current.
func (a *App) Sync(ctx context.Context) (bool, error) {
	if a.Config.GraphBackend != config.BackendPostgres || a.Snapshots == nil || a.Graph == nil {
		return false, nil
	}
	changed, err := a.Snapshots.Sync(ctx, a.Graph)
	if err != nil {
		return false, err
	}
	if changed {
		a.recordVersion(ctx)
	}
	return changed, nil
}

func (a *App) recordVersion(ctx context.Context) {
	if v, err := a.Source.Version(ctx); err == nil {
		a.Metrics.SetSnapshotVersion(v)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewAIClient creates the model client selected by AI_ADAPTER.
func NewAIClient(cfg config.AI) (ai.Client, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			AnswerModel:     cfg.AnswerModel,
			ExtractionModel: cfg.ExtractionModel,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	default:
		client, err := gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			AnswerModel:     cfg.AnswerModel,
			ExtractionModel: cfg.ExtractionModel,
			ChatURL:         cfg.ChatURL,
			ChatKey:         cfg.ChatKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, nil
	}
}
