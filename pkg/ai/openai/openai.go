package openai

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GraphOpenAIClient talks to an OpenAI compatible chat completion endpoint.
// The answer model writes the final answers, the extraction model turns
// questions into schema references.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	answerModel     string
	extractionModel string

	chatURL string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// ChatURL and ChatKey configure the chat/completion API endpoint. An empty
// ChatURL targets the OpenAI API. HTTPClient is optional.
type NewGraphOpenAIClientParams struct {
	AnswerModel     string
	ExtractionModel string

	ChatURL string
	ChatKey string

	HTTPClient *http.Client
}

// NewGraphOpenAIClient creates a client for the configured endpoint. The SDK
// does not retry on its own; callers decide on retries through
// ai.ErrUnavailable.
//
// Example:
//
//	client, err := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		AnswerModel:     "gpt-4o-mini",
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("AI_CHAT_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) (*GraphOpenAIClient, error) {
	if params.ChatKey == "" && params.ChatURL == "" {
		return nil, errors.New("openai: either a chat key or a chat URL is required")
	}
	if params.AnswerModel == "" {
		return nil, errors.New("openai: answer model is required")
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.AnswerModel
	}

	return &GraphOpenAIClient{
		answerModel:     params.AnswerModel,
		extractionModel: params.ExtractionModel,
		chatURL:         params.ChatURL,
		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey, params.HTTPClient),
	}, nil
}

func newOpenaiClient(baseURL string, apiKey string, httpClient *http.Client) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		options = append(options, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(options...)
	return &client
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since
// the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

// classify marks rate limits, server errors and transport failures as
// ai.ErrUnavailable.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if ai.IsTransientStatus(apiErr.StatusCode) {
			return fmt.Errorf("%w: %w", ai.ErrUnavailable, err)
		}
		return err
	}
	return ai.MarkUnavailable(err)
}

var _ ai.Client = (*GraphOpenAIClient)(nil)
