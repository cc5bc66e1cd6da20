package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[len(c.bodies)-1]
}

func completionServer(t *testing.T, status int, content string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newTestClient(t *testing.T, url string) *GraphOpenAIClient {
	t.Helper()
	client, err := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		AnswerModel: "test-model",
		ChatURL:     url,
		ChatKey:     "secret",
	})
	require.NoError(t, err)
	return client
}

func TestGenerateCompletion(t *testing.T) {
	srv, c := completionServer(t, http.StatusOK, "WH_002 is at risk [1].")
	client := newTestClient(t, srv.URL)

	out, err := client.GenerateCompletion(context.Background(), "How risky is WH_002?",
		ai.WithSystemPrompts("be brief"), ai.WithMaxTokens(50), ai.WithTemperature(0.2))
	require.NoError(t, err)
	assert.Equal(t, "WH_002 is at risk [1].", out)

	body := c.last()
	assert.Equal(t, "test-model", body["model"])
	assert.EqualValues(t, 50, body["max_completion_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	m := client.GetMetrics()
	assert.Equal(t, 10, m.TotalTokens)
	client.ResetMetrics()
	assert.Zero(t, client.GetMetrics().TotalTokens)
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	srv, c := completionServer(t, http.StatusOK, "```json\n{\"entity_types\":[\"Warehouse\"]}\n```")
	client := newTestClient(t, srv.URL)

	var out struct {
		EntityTypes []string `json:"entity_types"`
	}
	err := client.GenerateCompletionWithFormat(context.Background(), "extraction", "schema references", "question", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Warehouse"}, out.EntityTypes)

	format, ok := c.last()["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv, _ := completionServer(t, http.StatusServiceUnavailable, "")
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateCompletion(context.Background(), "hello")
	require.ErrorIs(t, err, ai.ErrUnavailable)
}

func TestRejectedRequestsAreNotUnavailable(t *testing.T) {
	srv, _ := completionServer(t, http.StatusBadRequest, "")
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateChat(context.Background(), []ai.ChatMessage{{Role: "user", Message: "hello"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ai.ErrUnavailable)
}

func TestUnreachableEndpointIsUnavailable(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.GenerateCompletion(context.Background(), "hello")
	require.ErrorIs(t, err, ai.ErrUnavailable)
}

func TestNewClientValidatesParams(t *testing.T) {
	_, err := NewGraphOpenAIClient(NewGraphOpenAIClientParams{AnswerModel: "m"})
	require.Error(t, err)
	_, err = NewGraphOpenAIClient(NewGraphOpenAIClientParams{ChatKey: "k"})
	require.Error(t, err)
}
