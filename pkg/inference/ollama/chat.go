package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/cortexbrain/cortex/pkg/inference"
)

const entityTypeList = "person, organization, concept, technology, other"

// ExtractGraph runs structured entity/relationship extraction over one
// chunk of text using the extraction model.
func (c *Client) ExtractGraph(
	ctx context.Context,
	text string,
	opts ...inference.GenerateOption,
) (*inference.Extraction, error) {
	systemPrompt := fmt.Sprintf(inference.ExtractGraphPrompt, entityTypeList, entityTypeList)

	var res inference.Extraction
	err := c.chatWithFormat(
		ctx,
		text,
		&res,
		append([]inference.GenerateOption{
			inference.WithModel(c.extractionModel),
			inference.WithSystemPrompts(systemPrompt),
			inference.WithTemperature(0.1),
		}, opts...)...,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

type queryEntitiesResponse struct {
	Entities []string `json:"entities" jsonschema_description:"Entity names mentioned in the question"`
}

// ExtractQueryEntities pulls candidate entity names out of a user query.
func (c *Client) ExtractQueryEntities(
	ctx context.Context,
	query string,
	opts ...inference.GenerateOption,
) ([]string, error) {
	var res queryEntitiesResponse
	err := c.chatWithFormat(
		ctx,
		query,
		&res,
		append([]inference.GenerateOption{
			inference.WithModel(c.extractionModel),
			inference.WithSystemPrompts(inference.ExtractQueryEntitiesPrompt),
			inference.WithTemperature(0.0),
		}, opts...)...,
	)
	if err != nil {
		return nil, err
	}
	return res.Entities, nil
}

// GenerateAnswer produces a grounded answer from the retrieved passages.
func (c *Client) GenerateAnswer(
	ctx context.Context,
	query string,
	passages []string,
	opts ...inference.GenerateOption,
) (string, error) {
	var block strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&block, "[%d] %s\n", i+1, p)
	}
	systemPrompt := fmt.Sprintf(inference.AnswerPrompt, block.String())

	options := inference.GenerateOptions{
		Model:         c.answerModel,
		SystemPrompts: []string{systemPrompt},
		Temperature:   0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	final, err := c.chat(ctx, options, query, nil)
	if err != nil {
		return "", err
	}
	return final.Message.Content, nil
}

func (c *Client) chatWithFormat(
	ctx context.Context,
	prompt string,
	out any,
	opts ...inference.GenerateOption,
) error {
	schemaObj := inference.GenerateSchema(out)
	formatBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return inference.Permanent(err)
	}

	options := inference.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	final, err := c.chat(ctx, options, prompt, json.RawMessage(formatBytes))
	if err != nil {
		return err
	}
	if strings.TrimSpace(final.Message.Content) == "" {
		return inference.Permanent(fmt.Errorf("empty response from model"))
	}
	if err := inference.UnmarshalFlexible(final.Message.Content, out); err != nil {
		return inference.Permanent(err)
	}
	return nil
}

func (c *Client) chat(
	ctx context.Context,
	options inference.GenerateOptions,
	prompt string,
	format json.RawMessage,
) (*api.ChatResponse, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.API.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return nil, classify(err)
	}

	c.modifyMetrics(inference.Metrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return &final, nil
}
