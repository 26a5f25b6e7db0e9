// Package retrieve answers queries by fusing two concurrent search
// paths over a document: 1-hop graph traversal seeded from the query's
// entities, and lexical/vector search over the chunk store.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

const defaultLimit = 8

// PathStatus reports what one search branch of a retrieval did.
type PathStatus string

const (
	// PathUsed means the branch ran and its results were merged.
	PathUsed PathStatus = "used"
	// PathSkipped means the caller opted out or no gateway is configured.
	PathSkipped PathStatus = "skipped"
	// PathDegraded means the branch failed and the surviving branch's
	// results stand alone.
	PathDegraded PathStatus = "degraded"
)

// Result is a ranked retrieval answer.
type Result struct {
	Results     []model.RetrievalResult `json:"results"`
	GraphPath   PathStatus              `json:"graph_path"`
	LexicalPath PathStatus              `json:"lexical_path"`
}

// Engine runs hybrid retrieval. Both branches share the caller's
// deadline; a branch failure degrades the result to the surviving
// branch instead of failing the query.
type Engine struct {
	gateway inference.Client
	chunks  store.ChunkStore
	graphs  store.GraphStore

	limit        int
	embedQueries bool
}

// EngineParams wires an Engine. Gateway is optional; without it the
// graph branch is always skipped.
type EngineParams struct {
	Gateway inference.Client
	Chunks  store.ChunkStore
	Graphs  store.GraphStore

	// Limit caps the merged result list.
	Limit int
	// EmbedQueries enables the vector arm of lexical search.
	EmbedQueries bool
}

func NewEngine(params EngineParams) *Engine {
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	return &Engine{
		gateway:      params.Gateway,
		chunks:       params.Chunks,
		graphs:       params.Graphs,
		limit:        params.Limit,
		embedQueries: params.EmbedQueries,
	}
}

// Retrieve runs both search paths concurrently and merges their
// results. Chunks found by both paths rank above single-path hits;
// within a tier higher score wins, ties broken by sequence index.
// With useGraph false no gateway call is made, query embeddings
// included.
func (e *Engine) Retrieve(ctx context.Context, query, documentID string, useGraph bool) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("retrieve: empty query")
	}
	if documentID == "" {
		return nil, fmt.Errorf("retrieve: empty document id")
	}

	var (
		mu           sync.Mutex
		graphResults []model.RetrievalResult
		lexResults   []model.RetrievalResult
		graphPath    = PathSkipped
		lexPath      = PathUsed
	)

	eg, gCtx := errgroup.WithContext(ctx)

	if useGraph && e.gateway != nil {
		graphPath = PathUsed
		eg.Go(func() error {
			results, err := e.graphSearch(gCtx, query, documentID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				graphPath = PathDegraded
				logger.Warn("[Retrieve] Graph path degraded", "document_id", documentID, "err", err)
				return nil
			}
			graphResults = results
			return nil
		})
	}

	eg.Go(func() error {
		results, err := e.lexicalSearch(gCtx, query, documentID, useGraph)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			lexPath = PathDegraded
			logger.Warn("[Retrieve] Lexical path degraded", "document_id", documentID, "err", err)
			return nil
		}
		lexResults = results
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		Results:     mergeResults(graphResults, lexResults, e.limit),
		GraphPath:   graphPath,
		LexicalPath: lexPath,
	}, nil
}

// graphSearch extracts entity names from the query, resolves them in
// the document's graph, expands one hop and scores each mentioned chunk
// by how many neighborhood entities touch it.
func (e *Engine) graphSearch(ctx context.Context, query, documentID string) ([]model.RetrievalResult, error) {
	names, err := e.gateway.ExtractQueryEntities(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("extract query entities: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	seeds, err := e.graphs.FindEntitiesByName(ctx, documentID, names)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	seedIDs := make([]string, len(seeds))
	for i, ent := range seeds {
		seedIDs[i] = ent.ID
	}
	neighborhood, err := e.graphs.Traverse(ctx, documentID, seedIDs, 1)
	if err != nil {
		return nil, fmt.Errorf("traverse: %w", err)
	}

	hits := make(map[string]int)
	for _, ent := range neighborhood.Entities {
		for _, m := range ent.Mentions {
			hits[m.ChunkID]++
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunks, err := e.chunks.GetChunks(ctx, documentID, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	results := make([]model.RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, model.RetrievalResult{
			ChunkID:       c.ID,
			Text:          c.Text,
			Score:         float64(hits[c.ID]),
			SequenceIndex: c.SequenceIndex,
			Provenance:    model.ProvenanceGraphMatch,
		})
	}
	return results, nil
}

// lexicalSearch delegates to the chunk store, optionally with a query
// embedding for the vector arm. Embedding failure falls back to
// keyword-only search; with useGateway false the embedding is skipped
// so the call stays gateway-free.
func (e *Engine) lexicalSearch(ctx context.Context, query, documentID string, useGateway bool) ([]model.RetrievalResult, error) {
	var embedding []float32
	if e.embedQueries && e.gateway != nil && useGateway {
		vec, err := e.gateway.GenerateEmbedding(ctx, []byte(query))
		if err != nil {
			logger.Warn("[Retrieve] Query embedding failed, keyword-only search", "document_id", documentID, "err", err)
		} else {
			embedding = vec
		}
	}

	results, err := e.chunks.Search(ctx, documentID, query, embedding, e.limit)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Provenance = model.ProvenanceKeywordMatch
	}
	return results, nil
}

func mergeResults(graph, lexical []model.RetrievalResult, limit int) []model.RetrievalResult {
	byID := make(map[string]model.RetrievalResult, len(graph)+len(lexical))
	for _, r := range graph {
		byID[r.ChunkID] = r
	}
	for _, r := range lexical {
		prev, ok := byID[r.ChunkID]
		if !ok {
			byID[r.ChunkID] = r
			continue
		}
		prev.Score += r.Score
		prev.Provenance = model.ProvenanceBoth
		byID[r.ChunkID] = prev
	}

	merged := make([]model.RetrievalResult, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		ti, tj := tier(merged[i].Provenance), tier(merged[j].Provenance)
		if ti != tj {
			return ti > tj
		}
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].SequenceIndex != merged[j].SequenceIndex {
			return merged[i].SequenceIndex < merged[j].SequenceIndex
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func tier(p model.Provenance) int {
	if p == model.ProvenanceBoth {
		return 1
	}
	return 0
}
