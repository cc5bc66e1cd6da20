package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/graph"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

type fakeClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func (f *fakeClient) GenerateCompletion(_ context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeClient) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...ai.GenerateOption) error {
	return errors.New("not implemented")
}

func (f *fakeClient) GenerateChat(context.Context, []ai.ChatMessage, ...ai.GenerateOption) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func testConfig(sleeper *sleepRecorder) Config {
	cfg := DefaultConfig()
	cfg.Retry.Sleep = sleeper.sleep
	return cfg
}

func demoScores(t *testing.T, ids ...string) (*risk.Engine, map[string]risk.RiskScore) {
	t.Helper()
	g := graph.New(schema.Warehouse())
	_, err := g.Apply(context.Background(), graph.DemoBatch())
	require.NoError(t, err)

	engine, err := risk.NewEngine(risk.DefaultConfig())
	require.NoError(t, err)
	svc := risk.NewService(engine, g)

	scores := make(map[string]risk.RiskScore, len(ids))
	for _, id := range ids {
		s, err := svc.Score(context.Background(), id)
		if err != nil {
			require.ErrorIs(t, err, common.ErrInsufficientData)
		}
		scores[id] = s
	}
	return engine, scores
}

func warehouseRecords() []executor.Record {
	keys := []string{"id", "name", "overallScore"}
	return []executor.Record{
		executor.NewRecord(keys, map[string]any{"id": "WH_002", "name": "River Depot", "overallScore": 79.55}, []string{"WH_002"}, nil),
		executor.NewRecord(keys, map[string]any{"id": "WH_003", "name": "Highland Store", "overallScore": 22.82}, []string{"WH_003"}, nil),
	}
}

func TestSynthesizeNoMatchSkipsModel(t *testing.T) {
	client := &fakeClient{responses: []string{"should not be used"}}
	s := New(client, nil, DefaultConfig(), WithTokenCounter(wordCount))

	a, err := s.Synthesize(context.Background(), "Which warehouses are in flood-prone areas without flood protection?", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, client.calls())
	assert.Equal(t, noMatchText, a.Text)
	assert.NotNil(t, a.CitedRecords)
	assert.Empty(t, a.CitedRecords)
	assert.Empty(t, a.Recommendations)
	assert.False(t, a.Degraded)
	assert.False(t, a.Fallback)
}

func TestSynthesizeGroundsAnswer(t *testing.T) {
	engine, scores := demoScores(t, "WH_002", "WH_003")
	client := &fakeClient{responses: []string{"WH_002 carries **[1]** critical risk [9]."}}
	s := New(client, engine, DefaultConfig(), WithTokenCounter(wordCount))

	question := "Which warehouses have the highest risk?"
	a, err := s.Synthesize(context.Background(), question, warehouseRecords(), scores)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "[1] id=WH_002; name=River Depot; overallScore=79.55")
	assert.Contains(t, prompt, "[2] id=WH_003; name=Highland Store; overallScore=22.82")
	assert.Contains(t, prompt, "WH_003: overall=22.82 (Low) infrastructure=n/a")
	assert.Contains(t, prompt, "[degraded: missing Infrastructure]")
	assert.Contains(t, prompt, "flood_exposure: raw=100 contribution=50 (located in a flood prone zone)")
	assert.Contains(t, prompt, question)

	assert.True(t, strings.HasPrefix(a.Text, "WH_002 carries [1] critical risk.\n"))
	assert.NotContains(t, a.Text, "[9]")
	assert.Contains(t, a.Text, "Note: the risk score of WH_003 is degraded, no data for Infrastructure.")
	assert.Contains(t, a.Text, "Recommendations:\n1. [CRITICAL] WH_002: Prepare a flood contingency plan for the site (flood_exposure, contribution 50)")

	assert.True(t, a.Degraded)
	assert.False(t, a.Fallback)
	assert.Len(t, a.CitedRecords, 2)
	require.Len(t, a.Scores, 2)
	assert.Equal(t, "WH_002", a.Scores[0].EntityID)
	assert.Equal(t, "WH_003", a.Scores[1].EntityID)
	require.Len(t, a.Recommendations, 5)
	assert.Equal(t, risk.FactorElectricBackup, a.Recommendations[4].Factor)
	assert.Equal(t, 2, a.Metadata.RecordCount)
}

func TestSynthesizeRetriesUnavailableModel(t *testing.T) {
	sleeper := &sleepRecorder{}
	client := &fakeClient{
		errs:      []error{fmt.Errorf("%w: 503", ai.ErrUnavailable), fmt.Errorf("%w: rate limited", ai.ErrUnavailable)},
		responses: []string{"", "", "WH_002 is at risk [1]."},
	}
	s := New(client, nil, testConfig(sleeper), WithTokenCounter(wordCount))

	a, err := s.Synthesize(context.Background(), "How risky is WH_002?", warehouseRecords()[:1], nil)
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.delays)
	assert.Equal(t, "WH_002 is at risk [1].", a.Text)
}

func TestSynthesizeFailsAfterRetries(t *testing.T) {
	sleeper := &sleepRecorder{}
	unavailable := fmt.Errorf("%w: connection refused", ai.ErrUnavailable)
	client := &fakeClient{errs: []error{unavailable, unavailable, unavailable, unavailable}}
	s := New(client, nil, testConfig(sleeper), WithTokenCounter(wordCount))

	_, err := s.Synthesize(context.Background(), "How risky is WH_002?", warehouseRecords(), nil)
	require.ErrorIs(t, err, common.ErrSynthesisFailed)
	assert.ErrorIs(t, err, ai.ErrUnavailable)
	assert.Equal(t, 3, client.calls())
	assert.Len(t, sleeper.delays, 2)
}

func TestSynthesizeDoesNotRetryRejectedRequests(t *testing.T) {
	sleeper := &sleepRecorder{}
	client := &fakeClient{errs: []error{errors.New("invalid request")}}
	s := New(client, nil, testConfig(sleeper), WithTokenCounter(wordCount))

	_, err := s.Synthesize(context.Background(), "How risky is WH_002?", warehouseRecords(), nil)
	require.ErrorIs(t, err, common.ErrSynthesisFailed)
	assert.Equal(t, 1, client.calls())
	assert.Empty(t, sleeper.delays)
}

func TestSynthesizeHonoursCancellation(t *testing.T) {
	client := &fakeClient{responses: []string{"unused"}}
	s := New(client, nil, DefaultConfig(), WithTokenCounter(wordCount))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Synthesize(ctx, "How risky is WH_002?", warehouseRecords(), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.calls())
}

func TestContextIsTrimmedToBudget(t *testing.T) {
	records := make([]executor.Record, 0, 5)
	for i := 1; i <= 5; i++ {
		records = append(records, executor.NewRecord([]string{"id", "name"},
			map[string]any{"id": fmt.Sprintf("WH_00%d", i), "name": "X"}, []string{fmt.Sprintf("WH_00%d", i)}, nil))
	}

	cfg := DefaultConfig()
	cfg.TokenBudget = 12
	client := &fakeClient{responses: []string{"See [4] and [5]."}}
	s := New(client, nil, cfg, WithTokenCounter(wordCount))

	a, err := s.Synthesize(context.Background(), "List warehouses", records, nil)
	require.NoError(t, err)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "[4] id=WH_004; name=X")
	assert.NotContains(t, prompt, "[5] id=WH_005")
	assert.Contains(t, prompt, "(1 more records omitted)")
	assert.Equal(t, "See [4] and.", a.Text)
	assert.Len(t, a.CitedRecords, 5)
}

func TestFallbackIsDeterministic(t *testing.T) {
	engine, scores := demoScores(t, "WH_002", "WH_003")
	s := New(nil, engine, DefaultConfig(), WithTokenCounter(wordCount))

	a, err := s.Synthesize(context.Background(), "Which warehouses have the highest risk?", warehouseRecords(), scores)
	require.NoError(t, err)
	b := s.Fallback("Which warehouses have the highest risk?", warehouseRecords(), scores)

	assert.True(t, a.Fallback)
	assert.Equal(t, a.Text, b.Text)
	assert.Contains(t, a.Text, `Found 2 matching records for "Which warehouses have the highest risk?":`)
	assert.Contains(t, a.Text, "[1] id=WH_002; name=River Depot; overallScore=79.55")
	assert.Contains(t, a.Text, "- WH_002: 79.55 (Critical)")
	assert.Contains(t, a.Text, "- WH_003: 22.82 (Low)")
	assert.Contains(t, a.Text, "Note: the risk score of WH_003 is degraded")
	assert.Len(t, a.Recommendations, 5)
	assert.True(t, a.Degraded)
}
