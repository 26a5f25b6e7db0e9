// Package inference defines the gateway contract to the language models
// used for extraction, query understanding and answer generation, plus
// the error taxonomy the ingestion pipeline relies on.
package inference

import (
	"context"
)

// ExtractedEntity is one entity as reported by the extraction model for
// a single chunk of text.
type ExtractedEntity struct {
	Name        string `json:"name" jsonschema_description:"Name of the entity as it appears in the text"`
	Type        string `json:"type" jsonschema_description:"One of: person, organization, concept, technology, other"`
	Description string `json:"description" jsonschema_description:"Short description of the entity based only on the source text"`
}

// ExtractedRelationship is one directed relationship between two
// entities named in the same extraction response.
type ExtractedRelationship struct {
	SourceEntity string `json:"source_entity" jsonschema_description:"Name of the source entity, as identified above"`
	TargetEntity string `json:"target_entity" jsonschema_description:"Name of the target entity, as identified above"`
	Type         string `json:"relationship_type" jsonschema_description:"Short verb phrase describing the relationship, e.g. works_at"`
	Context      string `json:"context" jsonschema_description:"The sentence or phrase from the text that supports this relationship"`
}

// Extraction is the structured output of one extraction call over one chunk.
type Extraction struct {
	Entities      []ExtractedEntity       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []ExtractedRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text"`
}

// GenerateOptions holds per-call configuration for model requests.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
}

// GenerateOption is a functional option for configuring model requests.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the adapter's default model for one call.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// Client is the inference gateway. Implementations wrap a concrete
// model provider; callers never see provider types, only this contract
// and the Transient/Permanent error classes.
type Client interface {
	// ExtractGraph runs entity/relationship extraction over one chunk
	// of text and returns the structured result.
	ExtractGraph(ctx context.Context, text string, opts ...GenerateOption) (*Extraction, error)

	// ExtractQueryEntities pulls candidate entity names out of a user
	// query for the graph arm of retrieval.
	ExtractQueryEntities(ctx context.Context, query string, opts ...GenerateOption) ([]string, error)

	// GenerateAnswer produces a grounded answer to the query from the
	// given context passages.
	GenerateAnswer(ctx context.Context, query string, passages []string, opts ...GenerateOption) (string, error)

	// GenerateEmbedding creates a vector embedding for the input text.
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}
