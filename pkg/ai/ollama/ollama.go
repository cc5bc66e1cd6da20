package ollama

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements ai.Client against a locally hosted Ollama
// server.
type GraphOllamaClient struct {
	answerModel     string
	extractionModel string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a
// new GraphOllamaClient. An empty BaseURL falls back to OLLAMA_HOST.
type NewGraphOllamaClientParams struct {
	AnswerModel     string
	ExtractionModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based client. At most
// MaxConcurrentRequests calls run against the server at once.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	if params.AnswerModel == "" {
		return nil, errors.New("ollama: answer model is required")
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.AnswerModel
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	var cli *api.Client
	if params.BaseURL != "" {
		u, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
		}
		httpClient := http.DefaultClient
		if params.ApiKey != "" {
			httpClient = &http.Client{
				Transport: &headerTransport{
					headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
					rt:      http.DefaultTransport,
				},
			}
		}
		cli = api.NewClient(u, httpClient)
	} else {
		var err error
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	return &GraphOllamaClient{
		answerModel:     params.AnswerModel,
		extractionModel: params.ExtractionModel,
		reqLock:         semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:          cli,
	}, nil
}

// classify marks rate limits, server errors and transport failures as
// ai.ErrUnavailable.
func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if ai.IsTransientStatus(statusErr.StatusCode) {
			return fmt.Errorf("%w: %w", ai.ErrUnavailable, err)
		}
		return err
	}
	return ai.MarkUnavailable(err)
}

var _ ai.Client = (*GraphOllamaClient)(nil)
