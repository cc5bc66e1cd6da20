package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
)

type chatServer struct {
	mu       sync.Mutex
	requests []api.ChatRequest
	auth     []string
}

func newChatServer(t *testing.T, status int, content string) (*httptest.Server, *chatServer) {
	t.Helper()
	cs := &chatServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req api.ChatRequest
		_ = json.Unmarshal(raw, &req)
		cs.mu.Lock()
		cs.requests = append(cs.requests, req)
		cs.auth = append(cs.auth, r.Header.Get("Authorization"))
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "test-model",
			"created_at":        "2026-01-01T00:00:00Z",
			"message":           map[string]any{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 5,
			"eval_count":        2,
			"total_duration":    2000000,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, cs
}

func (cs *chatServer) last() (api.ChatRequest, string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests[len(cs.requests)-1], cs.auth[len(cs.auth)-1]
}

func newTestClient(t *testing.T, url string) *GraphOllamaClient {
	t.Helper()
	client, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		AnswerModel: "test-model",
		BaseURL:     url,
		ApiKey:      "secret",
	})
	require.NoError(t, err)
	return client
}

func TestGenerateCompletion(t *testing.T) {
	srv, cs := newChatServer(t, http.StatusOK, "WH_002 is at risk [1].")
	client := newTestClient(t, srv.URL)

	out, err := client.GenerateCompletion(context.Background(), "How risky is WH_002?", ai.WithSystemPrompts("be brief"))
	require.NoError(t, err)
	assert.Equal(t, "WH_002 is at risk [1].", out)

	req, auth := cs.last()
	assert.Equal(t, "Bearer secret", auth)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.NotContains(t, req.Options, "num_ctx")
	assert.Equal(t, 7, client.GetMetrics().TotalTokens)
}

func TestLongPromptsGrowContextWindow(t *testing.T) {
	srv, cs := newChatServer(t, http.StatusOK, "ok")
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateCompletion(context.Background(), strings.Repeat("warehouse flood risk ", 3000))
	require.NoError(t, err)

	req, _ := cs.last()
	numCtx, ok := req.Options["num_ctx"].(float64)
	require.True(t, ok)
	assert.Greater(t, numCtx, float64(defaultContext))
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	srv, cs := newChatServer(t, http.StatusOK, `{"entity_types":["Warehouse"]}`)
	client := newTestClient(t, srv.URL)

	var out struct {
		EntityTypes []string `json:"entity_types"`
	}
	require.NoError(t, client.GenerateCompletionWithFormat(context.Background(), "extraction", "", "question", &out))
	assert.Equal(t, []string{"Warehouse"}, out.EntityTypes)

	req, _ := cs.last()
	assert.NotEmpty(t, req.Format)

	err := client.GenerateCompletionWithFormat(context.Background(), "extraction", "", "question", out)
	require.Error(t, err)
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusServiceUnavailable, "")
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateChat(context.Background(), []ai.ChatMessage{{Message: "hello"}})
	require.ErrorIs(t, err, ai.ErrUnavailable)
}

func TestNotFoundIsNotUnavailable(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusNotFound, "")
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateCompletion(context.Background(), "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ai.ErrUnavailable)
}
