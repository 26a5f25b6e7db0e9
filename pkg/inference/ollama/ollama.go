// Package ollama adapts a locally-hosted Ollama server to the inference
// gateway contract.
package ollama

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/cortexbrain/cortex/pkg/inference"
)

// Client implements inference.Client against an Ollama server.
type Client struct {
	extractionModel string
	answerModel     string
	embeddingModel  string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     inference.Metrics

	API *api.Client
}

// NewClientParams contains configuration for creating a new Client.
type NewClientParams struct {
	ExtractionModel string
	AnswerModel     string
	EmbeddingModel  string

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

// NewClient connects to the Ollama server at BaseURL (or the default if
// empty) with an optional bearer token.
func NewClient(params NewClientParams) (*Client, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	return &Client{
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		embeddingModel:  params.EmbeddingModel,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		API: api.NewClient(u, httpClient),
	}, nil
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

func classify(err error) error {
	if err == nil {
		return nil
	}
	var se api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode >= 500:
			return inference.Transient(err)
		default:
			return inference.Permanent(err)
		}
	}
	return inference.Transient(err)
}
