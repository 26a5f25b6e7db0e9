// Package openai adapts the OpenAI chat and embedding APIs to the
// inference gateway contract.
package openai

import (
	"errors"
	"net/http"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"

	"github.com/cortexbrain/cortex/pkg/inference"
)

// Client implements inference.Client against OpenAI-compatible APIs.
// Chat and embeddings may point at different endpoints.
type Client struct {
	extractionModel string
	answerModel     string
	embeddingModel  string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     inference.Metrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewClientParams configures a new Client.
type NewClientParams struct {
	ExtractionModel string
	AnswerModel     string
	EmbeddingModel  string

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
}

// NewClient creates an adapter with separate underlying clients for
// chat and embedding endpoints. MaxConcurrentRequests bounds in-flight
// calls across both.
func NewClient(params NewClientParams) *Client {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 15
	}
	return &Client{
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		embeddingModel:  params.EmbeddingModel,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// GetMetrics returns the accumulated token usage and latency.
func (c *Client) GetMetrics() inference.Metrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// ResetMetrics zeroes the running totals.
func (c *Client) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = inference.Metrics{}
}

func (c *Client) modifyMetrics(m inference.Metrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}

// classify maps provider errors onto the gateway taxonomy. Rate limits,
// timeouts and server errors are transient; other API rejections are
// permanent; anything else (network) is treated as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests,
			apierr.StatusCode == http.StatusRequestTimeout,
			apierr.StatusCode >= 500:
			return inference.Transient(err)
		default:
			return inference.Permanent(err)
		}
	}
	return inference.Transient(err)
}
