// Package model holds the shared domain types of the ingestion and
// retrieval pipeline. Everything here is plain data; behavior lives in
// the packages that operate on it.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EntityType classifies extracted entities. Unknown labels from the
// extraction model map to EntityTypeOther.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeTechnology   EntityType = "technology"
	EntityTypeOther        EntityType = "other"
)

// ParseEntityType maps a model-produced label onto the closed enum.
func ParseEntityType(s string) EntityType {
	switch EntityType(NormalizeName(s)) {
	case EntityTypePerson:
		return EntityTypePerson
	case EntityTypeOrganization:
		return EntityTypeOrganization
	case EntityTypeConcept:
		return EntityTypeConcept
	case EntityTypeTechnology:
		return EntityTypeTechnology
	default:
		return EntityTypeOther
	}
}

// DocumentStatus tracks a document through registration and ingestion.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is the unit of ingestion. SourceURI points at the original
// upload (an S3 key or inline marker); the text itself lives in chunks.
type Document struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceURI  string         `json:"source_uri"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Chunk is an immutable contiguous piece of document text. SequenceIndex
// preserves original document order; PageNumber is optional provenance
// from the upstream extractor. Embedding is populated at persist time
// when an embedding client is configured.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	PageNumber    int       `json:"page_number,omitempty"`
	Embedding     []float32 `json:"-"`
}

// Mention records a single occurrence of an entity inside a chunk.
type Mention struct {
	ChunkID       string `json:"chunk_id"`
	SequenceIndex int    `json:"sequence_index"`
	PageNumber    int    `json:"page_number,omitempty"`
}

// Entity is a node of the per-document knowledge graph. Identity is
// derived from the document, the type and the normalized name, so
// re-extraction of the same document yields the same ids.
type Entity struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Mentions   []Mention  `json:"mentions"`
}

// Relationship is a directed, typed edge between two entities of the
// same document. Context carries the model's supporting snippet(s).
type Relationship struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	SourceEntityID string `json:"source_entity_id"`
	TargetEntityID string `json:"target_entity_id"`
	Type           string `json:"type"`
	Context        string `json:"context,omitempty"`
}

// Graph is the per-document entity/relationship set. All relationship
// endpoints refer to entities in the same graph.
type Graph struct {
	DocumentID    string         `json:"document_id"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// JobState is the ingestion job lifecycle. Transitions run strictly
// forward: Queued, Extracting, GraphBuilding, Persisting, then Done or
// Failed. Failed is terminal; recovery means a fresh job.
type JobState string

const (
	JobStateQueued        JobState = "queued"
	JobStateExtracting    JobState = "extracting"
	JobStateGraphBuilding JobState = "graph_building"
	JobStatePersisting    JobState = "persisting"
	JobStateDone          JobState = "done"
	JobStateFailed        JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// IngestJob tracks one ingestion run of one document.
type IngestJob struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	State      JobState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Provenance says which retrieval arm produced a result chunk.
type Provenance string

const (
	ProvenanceGraphMatch   Provenance = "graph_match"
	ProvenanceKeywordMatch Provenance = "keyword_match"
	ProvenanceBoth         Provenance = "both"
)

// RetrievalResult is one ranked chunk of a query response. Ephemeral,
// never persisted.
type RetrievalResult struct {
	ChunkID       string     `json:"chunk_id"`
	Text          string     `json:"text"`
	Score         float64    `json:"score"`
	SequenceIndex int        `json:"sequence_index"`
	Provenance    Provenance `json:"provenance"`
}

// NormalizeName canonicalizes an entity name or relationship type for
// identity comparison: lowercase, trimmed, inner whitespace collapsed.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// EntityID derives the stable entity id from document, type and name.
// First 16 hex chars of the sha256 digest keep ids short but collision
// resistant within a document.
func EntityID(documentID string, entityType EntityType, name string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", documentID, entityType, NormalizeName(name)))
	return hex.EncodeToString(sum[:])[:16]
}

// RelationshipID derives the stable relationship id from its dedup key.
func RelationshipID(documentID, sourceID, targetID, relType string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s", documentID, sourceID, targetID, NormalizeName(relType)))
	return hex.EncodeToString(sum[:])[:16]
}
