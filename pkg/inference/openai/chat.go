package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

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
	err := c.generateWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a document chunk.",
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
	err := c.generateWithFormat(
		ctx,
		"extract_query_entities",
		"Identify entity names mentioned in a user question.",
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

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(query))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	response, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", inference.Permanent(fmt.Errorf("no choices in response from model"))
	}
	return response.Choices[0].Message.Content, nil
}

func (c *Client) generateWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...inference.GenerateOption,
) error {
	schema := inference.GenerateSchema(out)
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	options := inference.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	response, err := c.complete(ctx, body)
	if err != nil {
		return err
	}

	if len(response.Choices) == 0 {
		return inference.Permanent(fmt.Errorf("no choices in response from model"))
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return inference.Permanent(fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason))
	}
	if err := inference.UnmarshalFlexible(message, out); err != nil {
		return inference.Permanent(err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.ChatClient == nil {
		return nil, inference.Permanent(fmt.Errorf("no chat client configured"))
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return nil, classify(err)
	}

	c.modifyMetrics(inference.Metrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	return response, nil
}
