package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/cortexbrain/cortex/pkg/inference"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. Blank input is rejected without
// a model call.
func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, inference.Permanent(fmt.Errorf("no embedding client configured"))
	}
	text := strings.TrimSpace(string(input))
	if text == "" {
		return nil, inference.Permanent(fmt.Errorf("empty embedding input"))
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: c.embeddingModel,
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, body)
	if err != nil {
		return nil, classify(err)
	}

	c.modifyMetrics(inference.Metrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != 1 {
		return nil, inference.Permanent(fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data)))
	}

	vec := make([]float32, 0, len(response.Data[0].Embedding))
	for _, v := range response.Data[0].Embedding {
		vec = append(vec, float32(v))
	}
	return vec, nil
}
