package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.GraphBackend)
	assert.False(t, cfg.AI.Enabled())
	assert.False(t, cfg.S3.Enabled())
	assert.Empty(t, cfg.RabbitMQ.URL())

	assert.Equal(t, 3, cfg.QueryConfig().MaxHops)
	assert.Equal(t, 10, cfg.QueryConfig().DefaultLimit)
	assert.Equal(t, 1000, cfg.ExecutorConfig().ResultCeiling)
	assert.Equal(t, 60*time.Second, cfg.PipelineConfig().Timeout)
	assert.Equal(t, 3000, cfg.AnswerConfig().TokenBudget)
	assert.Equal(t, risk.DefaultConfig(), cfg.Risk)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PIPELINE_MAX_CONCURRENT", "4")
	t.Setenv("PIPELINE_QUEUE_TIMEOUT", "250ms")
	t.Setenv("STORE_RETRIES", "5")
	t.Setenv("RABBITMQ_USER", "guest")
	t.Setenv("RABBITMQ_PASSWORD", "secret")
	t.Setenv("RABBITMQ_HOST", "mq")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.PipelineConfig().MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.PipelineConfig().QueueTimeout)
	assert.Equal(t, 5, cfg.ExecutorConfig().Retry.MaxAttempts)
	assert.Equal(t, "amqp://guest:secret@mq:5672/", cfg.RabbitMQ.URL())
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	cases := map[string]map[string]string{
		"limit above ceiling": {"QUERY_DEFAULT_LIMIT": "50", "QUERY_MAX_LIMIT": "20"},
		"zero hops":           {"QUERY_MAX_HOPS": "0"},
		"unknown backend":     {"GRAPH_BACKEND": "sqlite"},
		"postgres without db": {"GRAPH_BACKEND": "postgres"},
		"neo4j without uri":   {"GRAPH_BACKEND": "neo4j"},
		"model without key":   {"AI_CHAT_DESCRIBE_MODEL": "gpt-4o-mini"},
		"bad port":            {"PORT": "http"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRiskFileOverridesWeights(t *testing.T) {
	raw := []byte(`
category_weights:
  Infrastructure: 0.4
  Location: 0.2
  Operational: 0.2
  Market: 0.2
severity_threshold: 10
max_recommendations: 3
`)
	cfg, err := parseRisk(raw, risk.DefaultConfig())
	require.NoError(t, err)

	assert.InDelta(t, 0.4, cfg.CategoryWeights[risk.CategoryInfrastructure], 1e-9)
	assert.InDelta(t, 10.0, cfg.SeverityThreshold, 1e-9)
	assert.Equal(t, 3, cfg.MaxRecommendations)
	assert.Equal(t, risk.DefaultConfig().FactorWeights, cfg.FactorWeights)
	assert.InDelta(t, 40.0, cfg.CriticalAt, 1e-9)
}

func TestRiskFileRejectsBadWeights(t *testing.T) {
	cases := map[string]string{
		"sum above one":      "category_weights:\n  Infrastructure: 0.5\n  Location: 0.5\n  Operational: 0.3\n  Market: 0.15\n",
		"unknown key":        "category_weigths:\n  Infrastructure: 1\n",
		"negative":           "factor_weights:\n  flood_protection: -0.1\n",
		"no recommendations": "max_recommendations: 0\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseRisk([]byte(raw), risk.DefaultConfig())
			assert.Error(t, err)
		})
	}
}

func TestLoadFailsOnInvalidRiskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("category_weights:\n  Infrastructure: 1\n"), 0o600))
	t.Setenv("RISK_CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "risk config"), err.Error())
}

func TestEmptyRiskFileKeepsDefaults(t *testing.T) {
	cfg, err := parseRisk(nil, risk.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultConfig(), cfg)
}
