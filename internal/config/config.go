// Package config builds the immutable service configuration from the
// environment and an optional YAML weights file. It is loaded once at
// startup; an invalid configuration stops the process.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator"

	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/answer"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/pipeline"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// Graph backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
)

type Config struct {
	Debug bool

	Port          string `validate:"required,numeric"`
	DatabaseURL   string
	MigrationsDir string
	AuthURL       string
	MasterAPIKey  string

	GraphBackend string `validate:"oneof=memory postgres neo4j"`
	// SyncInterval is how often the server polls Postgres for a newer
	// snapshot in addition to the snapshot signals.
	SyncInterval time.Duration `validate:"gt=0"`

	Neo4j    Neo4j
	AI       AI
	RabbitMQ RabbitMQ
	S3       S3
	Limits   Limits

	Risk risk.Config `validate:"-"`
}

type Neo4j struct {
	URI      string
	Username string
	Password string
	Database string
}

type AI struct {
	Adapter         string `validate:"omitempty,oneof=openai ollama"`
	ChatURL         string
	ChatKey         string
	AnswerModel     string
	ExtractionModel string
	// ParallelRequests caps concurrent model calls of the Ollama adapter.
	ParallelRequests int `validate:"min=1"`
}

// Enabled reports whether a model is configured. Without one answers are
// templated and questions are understood by the rule extractor alone.
func (a AI) Enabled() bool {
	return a.AnswerModel != ""
}

type RabbitMQ struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL returns the AMQP url, or "" when no host is configured.
func (r RabbitMQ) URL() string {
	if r.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   r.Host + ":" + r.Port,
		Path:   "/",
	}
	return u.String()
}

type S3 struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

func (s S3) Enabled() bool {
	return s.Bucket != ""
}

type Limits struct {
	MaxHops       int `validate:"min=1,max=10"`
	DefaultLimit  int `validate:"min=1"`
	MaxLimit      int `validate:"min=1,gtefield=DefaultLimit"`
	ResultCeiling int `validate:"min=1,gtefield=MaxLimit"`

	MaxConcurrent int `validate:"min=1"`
	MaxQueued     int `validate:"min=0"`

	QuestionTimeout time.Duration `validate:"gt=0"`
	QueueTimeout    time.Duration `validate:"gt=0"`
	StoreTimeout    time.Duration `validate:"gt=0"`
	ModelTimeout    time.Duration `validate:"gt=0"`

	StoreRetries int `validate:"min=1"`
	ModelRetries int `validate:"min=1"`
	TokenBudget  int `validate:"min=100"`

	ScoreWorkers int `validate:"min=1"`
}

// Load reads the configuration from the environment. RISK_CONFIG_FILE
// names an optional YAML file overriding the risk weights.
func Load() (Config, error) {
	cfg := Config{
		Debug:         util.GetEnvBool("DEBUG", false),
		Port:          util.GetEnvString("PORT", "8080"),
		DatabaseURL:   util.GetEnv("DATABASE_URL"),
		MigrationsDir: util.GetEnvString("MIGRATIONS_DIR", "migrations"),
		AuthURL:       util.GetEnv("AUTH_URL"),
		MasterAPIKey:  util.GetEnv("MASTER_API_KEY"),
		GraphBackend:  util.GetEnvString("GRAPH_BACKEND", BackendMemory),
		SyncInterval:  util.GetEnvDuration("GRAPH_SYNC_INTERVAL", time.Minute),
		Neo4j: Neo4j{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},
		AI: AI{
			Adapter:          util.GetEnv("AI_ADAPTER"),
			ChatURL:          util.GetEnv("AI_CHAT_URL"),
			ChatKey:          util.GetEnv("AI_CHAT_KEY"),
			AnswerModel:      util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),
		},
		RabbitMQ: RabbitMQ{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Limits: Limits{
			MaxHops:         util.GetEnvInt("QUERY_MAX_HOPS", 3),
			DefaultLimit:    util.GetEnvInt("QUERY_DEFAULT_LIMIT", 10),
			MaxLimit:        util.GetEnvInt("QUERY_MAX_LIMIT", 100),
			ResultCeiling:   util.GetEnvInt("QUERY_RESULT_CEILING", 1000),
			MaxConcurrent:   util.GetEnvInt("PIPELINE_MAX_CONCURRENT", 10),
			MaxQueued:       util.GetEnvInt("PIPELINE_MAX_QUEUED", 100),
			QuestionTimeout: util.GetEnvDuration("PIPELINE_TIMEOUT", 60*time.Second),
			QueueTimeout:    util.GetEnvDuration("PIPELINE_QUEUE_TIMEOUT", 10*time.Second),
			StoreTimeout:    util.GetEnvDuration("STORE_TIMEOUT", 5*time.Second),
			ModelTimeout:    util.GetEnvDuration("AI_TIMEOUT", 30*time.Second),
			StoreRetries:    util.GetEnvInt("STORE_RETRIES", 3),
			ModelRetries:    util.GetEnvInt("AI_RETRIES", 3),
			TokenBudget:     util.GetEnvInt("AI_TOKEN_BUDGET", 3000),
			ScoreWorkers:    util.GetEnvInt("RISK_SCORE_WORKERS", 8),
		},
		Risk: risk.DefaultConfig(),
	}

	if path := util.GetEnv("RISK_CONFIG_FILE"); path != "" {
		rc, err := LoadRiskFile(path, cfg.Risk)
		if err != nil {
			return Config{}, err
		}
		cfg.Risk = rc
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for process startup.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	return cfg
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	switch c.GraphBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres graph backend")
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return errors.New("config: NEO4J_URI is required for the neo4j graph backend")
		}
	}
	if c.AI.Enabled() && c.AI.Adapter != "ollama" && c.AI.ChatKey == "" {
		return errors.New("config: AI_CHAT_KEY is required for the openai adapter")
	}

	return c.Risk.Validate()
}

func (c Config) QueryConfig() query.Config {
	return query.Config{
		MaxHops:      c.Limits.MaxHops,
		DefaultLimit: c.Limits.DefaultLimit,
		MaxLimit:     c.Limits.MaxLimit,
	}
}

func (c Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.MaxHops = c.Limits.MaxHops
	cfg.MaxLimit = c.Limits.MaxLimit
	cfg.ResultCeiling = c.Limits.ResultCeiling
	cfg.StoreTimeout = c.Limits.StoreTimeout
	cfg.Retry.MaxAttempts = c.Limits.StoreRetries
	return cfg
}

func (c Config) AnswerConfig() answer.Config {
	cfg := answer.DefaultConfig()
	cfg.TokenBudget = c.Limits.TokenBudget
	cfg.ModelTimeout = c.Limits.ModelTimeout
	cfg.Retry.MaxAttempts = c.Limits.ModelRetries
	return cfg
}

func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Timeout:       c.Limits.QuestionTimeout,
		MaxConcurrent: c.Limits.MaxConcurrent,
		MaxQueued:     c.Limits.MaxQueued,
		QueueTimeout:  c.Limits.QueueTimeout,
	}
}
