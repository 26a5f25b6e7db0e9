// Package store defines the persistence contracts for documents,
// chunks and knowledge graphs, plus the secondary backup copy.
package store

import (
	"context"
	"errors"

	"github.com/cortexbrain/cortex/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// DocumentStore persists document registrations and their status.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, chunkCount int) error
	DeleteDocument(ctx context.Context, id string) error
}

// ChunkStore persists immutable document chunks and serves the lexical
// arm of retrieval. Search scores are the store's own relevance values
// and are passed through to ranking untouched.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []model.Chunk) error
	GetChunks(ctx context.Context, documentID string, ids []string) ([]model.Chunk, error)
	Search(ctx context.Context, documentID string, query string, embedding []float32, limit int) ([]model.RetrievalResult, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

// GraphStore is the primary graph persistence. UpsertGraph is
// idempotent: writing the same graph twice leaves one copy.
type GraphStore interface {
	UpsertGraph(ctx context.Context, graph *model.Graph) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	GetRelationshipsFor(ctx context.Context, entityID string) ([]model.Relationship, error)

	// Traverse returns the neighborhood of the seed entities up to
	// maxHops away: the seeds, every relationship incident to a visited
	// entity, and the entities on the far end. Cycles terminate via a
	// visited set.
	Traverse(ctx context.Context, documentID string, entityIDs []string, maxHops int) (*model.Graph, error)

	// FindEntitiesByName matches names against a document's entities:
	// exact normalized match first, substring fallback for names that
	// matched nothing exactly.
	FindEntitiesByName(ctx context.Context, documentID string, names []string) ([]model.Entity, error)

	// ExportGraph returns the full per-document graph for the
	// visualization surface.
	ExportGraph(ctx context.Context, documentID string) (*model.Graph, error)

	DeleteGraph(ctx context.Context, documentID string) error
}

// BackupStore keeps a denormalized whole-graph copy in a secondary
// system. Writes happen after the primary commit and are non-fatal.
type BackupStore interface {
	SaveGraph(ctx context.Context, graph *model.Graph) error
	LoadGraph(ctx context.Context, documentID string) (*model.Graph, error)
	DeleteGraph(ctx context.Context, documentID string) error
}
