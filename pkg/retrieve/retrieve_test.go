package retrieve

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store/memory"
)

type stubGateway struct {
	mu          sync.Mutex
	calls       int
	entities    []string
	entitiesErr error
}

func (s *stubGateway) ExtractQueryEntities(ctx context.Context, query string, opts ...inference.GenerateOption) ([]string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.entities, s.entitiesErr
}

func (s *stubGateway) ExtractGraph(ctx context.Context, text string, opts ...inference.GenerateOption) (*inference.Extraction, error) {
	return nil, errors.New("not used")
}

func (s *stubGateway) GenerateAnswer(ctx context.Context, query string, passages []string, opts ...inference.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (s *stubGateway) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil, errors.New("not used")
}

func (s *stubGateway) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// seedStore loads the worked example: Alice works at Acme, Berlin is
// unrelated to the query, and one chunk mentions nothing from the graph.
func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewStore()

	chunks := []model.Chunk{
		{ID: "c0", DocumentID: "doc1", SequenceIndex: 0, Text: "Alice joined the company last year."},
		{ID: "c1", DocumentID: "doc1", SequenceIndex: 1, Text: "Acme Corp builds industrial robots."},
		{ID: "c2", DocumentID: "doc1", SequenceIndex: 2, Text: "The cafeteria menu changes weekly."},
	}
	if err := mem.SaveChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	alice := model.Entity{
		ID:   model.EntityID("doc1", model.EntityTypePerson, "Alice"),
		Name: "Alice", Type: model.EntityTypePerson,
		Mentions: []model.Mention{{ChunkID: "c0", SequenceIndex: 0}},
	}
	acme := model.Entity{
		ID:   model.EntityID("doc1", model.EntityTypeOrganization, "Acme Corp"),
		Name: "Acme Corp", Type: model.EntityTypeOrganization,
		Mentions: []model.Mention{{ChunkID: "c1", SequenceIndex: 1}},
	}
	g := &model.Graph{
		DocumentID: "doc1",
		Entities:   []model.Entity{alice, acme},
		Relationships: []model.Relationship{{
			ID:             model.RelationshipID("doc1", alice.ID, acme.ID, "works_at"),
			DocumentID:     "doc1",
			SourceEntityID: alice.ID,
			TargetEntityID: acme.ID,
			Type:           "works_at",
		}},
	}
	if err := mem.UpsertGraph(ctx, g); err != nil {
		t.Fatal(err)
	}
	return mem
}

func TestRetrieve_HybridAliceAcme(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem})

	res, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.GraphPath != PathUsed {
		t.Errorf("expected graph path used, got %s", res.GraphPath)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", res.Results)
	}

	// c0 matches both paths (Alice mention + keyword "alice"); c1 is
	// reached only through the works_at edge.
	if res.Results[0].ChunkID != "c0" || res.Results[0].Provenance != model.ProvenanceBoth {
		t.Errorf("expected c0/Both first, got %s/%s", res.Results[0].ChunkID, res.Results[0].Provenance)
	}
	if res.Results[1].ChunkID != "c1" || res.Results[1].Provenance != model.ProvenanceGraphMatch {
		t.Errorf("expected c1/GraphMatch second, got %s/%s", res.Results[1].ChunkID, res.Results[1].Provenance)
	}
}

func TestRetrieve_GraphDisabledSkipsGateway(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem})

	res, err := e.Retrieve(context.Background(), "Alice", "doc1", false)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.GraphPath != PathSkipped {
		t.Errorf("expected graph path skipped, got %s", res.GraphPath)
	}
	if gateway.callCount() != 0 {
		t.Errorf("expected no gateway calls, got %d", gateway.callCount())
	}
	for _, r := range res.Results {
		if r.Provenance != model.ProvenanceKeywordMatch {
			t.Errorf("chunk %s: expected KeywordMatch, got %s", r.ChunkID, r.Provenance)
		}
	}
}

func TestRetrieve_GatewayFailureDegrades(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entitiesErr: errors.New("model unavailable")}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem})

	res, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatalf("expected degraded result, got error: %v", err)
	}
	if res.GraphPath != PathDegraded {
		t.Errorf("expected degraded, got %s", res.GraphPath)
	}
	if len(res.Results) == 0 {
		t.Fatal("expected lexical results despite gateway failure")
	}
	for _, r := range res.Results {
		if r.Provenance != model.ProvenanceKeywordMatch {
			t.Errorf("chunk %s: expected KeywordMatch, got %s", r.ChunkID, r.Provenance)
		}
	}
}

// brokenChunkStore serves graph-side chunk lookups from the embedded
// store but fails lexical search.
type brokenChunkStore struct {
	*memory.Store
}

func (s *brokenChunkStore) Search(ctx context.Context, documentID string, query string, embedding []float32, limit int) ([]model.RetrievalResult, error) {
	return nil, errors.New("index unavailable")
}

// slowChunkStore blocks lexical search until the caller's deadline.
type slowChunkStore struct {
	*memory.Store
}

func (s *slowChunkStore) Search(ctx context.Context, documentID string, query string, embedding []float32, limit int) ([]model.RetrievalResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_LexicalFailureDegrades(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: &brokenChunkStore{mem}, Graphs: mem})

	res, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatalf("expected graph results despite lexical failure, got error: %v", err)
	}
	if res.LexicalPath != PathDegraded {
		t.Errorf("expected lexical path degraded, got %s", res.LexicalPath)
	}
	if res.GraphPath != PathUsed {
		t.Errorf("expected graph path used, got %s", res.GraphPath)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 graph results, got %+v", res.Results)
	}
	for _, r := range res.Results {
		if r.Provenance != model.ProvenanceGraphMatch {
			t.Errorf("chunk %s: expected GraphMatch, got %s", r.ChunkID, r.Provenance)
		}
	}
}

func TestRetrieve_SlowLexicalMissesDeadline(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: &slowChunkStore{mem}, Graphs: mem})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := e.Retrieve(ctx, "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatalf("expected graph results despite lexical timeout, got error: %v", err)
	}
	if res.LexicalPath != PathDegraded {
		t.Errorf("expected lexical path degraded, got %s", res.LexicalPath)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 graph results, got %+v", res.Results)
	}
	for _, r := range res.Results {
		if r.Provenance != model.ProvenanceGraphMatch {
			t.Errorf("chunk %s: expected GraphMatch, got %s", r.ChunkID, r.Provenance)
		}
	}
}

func TestRetrieve_GraphDisabledSkipsQueryEmbedding(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem, EmbedQueries: true})

	res, err := e.Retrieve(context.Background(), "Alice", "doc1", false)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if gateway.callCount() != 0 {
		t.Errorf("expected no gateway calls, got %d", gateway.callCount())
	}
	for _, r := range res.Results {
		if r.Provenance != model.ProvenanceKeywordMatch {
			t.Errorf("chunk %s: expected KeywordMatch, got %s", r.ChunkID, r.Provenance)
		}
	}
}

func TestRetrieve_UnknownEntityFallsBackToLexical(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Zorblatt"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem})

	res, err := e.Retrieve(context.Background(), "cafeteria menu", "doc1", true)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.GraphPath != PathUsed {
		t.Errorf("expected used (graph ran, found nothing), got %s", res.GraphPath)
	}
	if len(res.Results) != 1 || res.Results[0].ChunkID != "c2" {
		t.Fatalf("expected only c2, got %+v", res.Results)
	}
	if res.Results[0].Provenance != model.ProvenanceKeywordMatch {
		t.Errorf("expected KeywordMatch, got %s", res.Results[0].Provenance)
	}
}

func TestRetrieve_LimitCapsResults(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem, Limit: 1})

	res, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	if res.Results[0].ChunkID != "c0" {
		t.Errorf("expected the Both-tier chunk to survive the cap, got %s", res.Results[0].ChunkID)
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	mem := seedStore(t)
	gateway := &stubGateway{entities: []string{"Alice"}}
	e := NewEngine(EngineParams{Gateway: gateway, Chunks: mem, Graphs: mem})

	first, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Retrieve(context.Background(), "Who does Alice work for?", "doc1", true)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("non-deterministic results:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}

func TestRetrieve_ValidationErrors(t *testing.T) {
	mem := seedStore(t)
	e := NewEngine(EngineParams{Chunks: mem, Graphs: mem})

	if _, err := e.Retrieve(context.Background(), "  ", "doc1", false); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := e.Retrieve(context.Background(), "query", "", false); err == nil {
		t.Error("expected error for empty document id")
	}
}
