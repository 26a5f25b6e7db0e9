// Package memory is an in-process implementation of the store
// contracts. It backs tests and deployments that run without Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// Store implements DocumentStore, ChunkStore, GraphStore and
// BackupStore over mutex-guarded maps.
type Store struct {
	mu        sync.RWMutex
	documents map[string]model.Document
	chunks    map[string][]model.Chunk  // by document id, ordered by sequence index
	graphs    map[string]*model.Graph   // by document id
	entityDoc map[string]string         // entity id -> document id
}

func NewStore() *Store {
	return &Store{
		documents: make(map[string]model.Document),
		chunks:    make(map[string][]model.Chunk),
		graphs:    make(map[string]*model.Graph),
		entityDoc: make(map[string]string),
	}
}

// --- DocumentStore ---

func (s *Store) CreateDocument(ctx context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = status
	if chunkCount >= 0 {
		doc.ChunkCount = chunkCount
	}
	s.documents[id] = doc
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	return nil
}

// --- ChunkStore ---

func (s *Store) SaveChunks(ctx context.Context, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		existing := s.chunks[c.DocumentID]
		replaced := false
		for i := range existing {
			if existing[i].ID == c.ID {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
		s.chunks[c.DocumentID] = existing
	}
	for _, list := range s.chunks {
		sort.Slice(list, func(i, j int) bool {
			return list[i].SequenceIndex < list[j].SequenceIndex
		})
	}
	return nil
}

func (s *Store) GetChunks(ctx context.Context, documentID string, ids []string) ([]model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.chunks[documentID]
	if ids == nil {
		out := make([]model.Chunk, len(list))
		copy(out, list)
		return out, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Chunk
	for _, c := range list {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Search scores chunks by the fraction of query terms they contain.
// The embedding argument is ignored; the memory store has no vector
// index.
func (s *Store) Search(ctx context.Context, documentID string, query string, embedding []float32, limit int) ([]model.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var results []model.RetrievalResult
	for _, c := range s.chunks[documentID] {
		text := strings.ToLower(c.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, model.RetrievalResult{
			ChunkID:       c.ID,
			Text:          c.Text,
			Score:         float64(hits) / float64(len(terms)),
			SequenceIndex: c.SequenceIndex,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SequenceIndex < results[j].SequenceIndex
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

// --- GraphStore ---

func (s *Store) UpsertGraph(ctx context.Context, graph *model.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &model.Graph{
		DocumentID:    graph.DocumentID,
		Entities:      append([]model.Entity(nil), graph.Entities...),
		Relationships: append([]model.Relationship(nil), graph.Relationships...),
	}
	if old := s.graphs[graph.DocumentID]; old != nil {
		for _, e := range old.Entities {
			delete(s.entityDoc, e.ID)
		}
	}
	s.graphs[graph.DocumentID] = cp
	for _, e := range cp.Entities {
		s.entityDoc[e.ID] = graph.DocumentID
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docID, ok := s.entityDoc[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, e := range s.graphs[docID].Entities {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetRelationshipsFor(ctx context.Context, entityID string) ([]model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docID, ok := s.entityDoc[entityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var out []model.Relationship
	for _, r := range s.graphs[docID].Relationships {
		if r.SourceEntityID == entityID || r.TargetEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Traverse(ctx context.Context, documentID string, entityIDs []string, maxHops int) (*model.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.graphs[documentID]
	if g == nil {
		return &model.Graph{DocumentID: documentID}, nil
	}
	if maxHops <= 0 {
		maxHops = 1
	}

	entitiesByID := make(map[string]model.Entity, len(g.Entities))
	for _, e := range g.Entities {
		entitiesByID[e.ID] = e
	}

	visited := make(map[string]bool)
	frontier := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if _, ok := entitiesByID[id]; ok && !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	edges := make(map[string]model.Relationship)
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, r := range g.Relationships {
			for _, id := range frontier {
				if r.SourceEntityID != id && r.TargetEntityID != id {
					continue
				}
				edges[r.ID] = r
				other := r.SourceEntityID
				if other == id {
					other = r.TargetEntityID
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	out := &model.Graph{DocumentID: documentID}
	for id := range visited {
		out.Entities = append(out.Entities, entitiesByID[id])
	}
	for _, r := range edges {
		out.Relationships = append(out.Relationships, r)
	}
	sort.Slice(out.Entities, func(i, j int) bool { return out.Entities[i].ID < out.Entities[j].ID })
	sort.Slice(out.Relationships, func(i, j int) bool { return out.Relationships[i].ID < out.Relationships[j].ID })
	return out, nil
}

func (s *Store) FindEntitiesByName(ctx context.Context, documentID string, names []string) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.graphs[documentID]
	if g == nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []model.Entity
	for _, name := range names {
		normalized := model.NormalizeName(name)
		if normalized == "" {
			continue
		}
		matched := false
		for _, e := range g.Entities {
			if model.NormalizeName(e.Name) == normalized && !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
				matched = true
			}
		}
		if matched {
			continue
		}
		for _, e := range g.Entities {
			if strings.Contains(model.NormalizeName(e.Name), normalized) && !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *Store) ExportGraph(ctx context.Context, documentID string) (*model.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.graphs[documentID]
	if g == nil {
		return nil, store.ErrNotFound
	}
	return &model.Graph{
		DocumentID:    g.DocumentID,
		Entities:      append([]model.Entity(nil), g.Entities...),
		Relationships: append([]model.Relationship(nil), g.Relationships...),
	}, nil
}

func (s *Store) DeleteGraph(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g := s.graphs[documentID]; g != nil {
		for _, e := range g.Entities {
			delete(s.entityDoc, e.ID)
		}
	}
	delete(s.graphs, documentID)
	return nil
}

// --- BackupStore ---

// SaveGraph satisfies BackupStore so the memory store can stand in for
// the secondary copy in tests.
func (s *Store) SaveGraph(ctx context.Context, graph *model.Graph) error {
	return s.UpsertGraph(ctx, graph)
}

func (s *Store) LoadGraph(ctx context.Context, documentID string) (*model.Graph, error) {
	return s.ExportGraph(ctx, documentID)
}
