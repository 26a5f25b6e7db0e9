package memory

import (
	"context"
	"testing"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

func testGraph() *model.Graph {
	return &model.Graph{
		DocumentID: "doc1",
		Entities: []model.Entity{
			{ID: "e1", DocumentID: "doc1", Name: "Alice", Type: model.EntityTypePerson,
				Mentions: []model.Mention{{ChunkID: "c1", SequenceIndex: 0}}},
			{ID: "e2", DocumentID: "doc1", Name: "Acme Corp", Type: model.EntityTypeOrganization,
				Mentions: []model.Mention{{ChunkID: "c2", SequenceIndex: 1}}},
			{ID: "e3", DocumentID: "doc1", Name: "Berlin", Type: model.EntityTypeOther,
				Mentions: []model.Mention{{ChunkID: "c3", SequenceIndex: 2}}},
		},
		Relationships: []model.Relationship{
			{ID: "r1", DocumentID: "doc1", SourceEntityID: "e1", TargetEntityID: "e2", Type: "works_at"},
			{ID: "r2", DocumentID: "doc1", SourceEntityID: "e2", TargetEntityID: "e3", Type: "located_in"},
		},
	}
}

func TestUpsertGraph_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	g := testGraph()
	if err := s.UpsertGraph(ctx, g); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertGraph(ctx, g); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	out, err := s.ExportGraph(ctx, "doc1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Entities) != 3 || len(out.Relationships) != 2 {
		t.Errorf("expected 3 entities / 2 relationships, got %d / %d",
			len(out.Entities), len(out.Relationships))
	}
}

func TestTraverse_OneHop(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.UpsertGraph(ctx, testGraph()); err != nil {
		t.Fatal(err)
	}

	out, err := s.Traverse(ctx, "doc1", []string{"e1"}, 1)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}

	// One hop from Alice reaches Acme but not Berlin.
	if len(out.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %+v", len(out.Entities), out.Entities)
	}
	if len(out.Relationships) != 1 || out.Relationships[0].ID != "r1" {
		t.Fatalf("expected only r1, got %+v", out.Relationships)
	}
}

func TestTraverse_CycleTerminates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g := testGraph()
	g.Relationships = append(g.Relationships, model.Relationship{
		ID: "r3", DocumentID: "doc1", SourceEntityID: "e3", TargetEntityID: "e1", Type: "hosts",
	})
	if err := s.UpsertGraph(ctx, g); err != nil {
		t.Fatal(err)
	}

	out, err := s.Traverse(ctx, "doc1", []string{"e1"}, 5)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(out.Entities) != 3 || len(out.Relationships) != 3 {
		t.Errorf("expected full cycle coverage, got %d entities / %d relationships",
			len(out.Entities), len(out.Relationships))
	}
}

func TestFindEntitiesByName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.UpsertGraph(ctx, testGraph()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		query   []string
		wantIDs []string
	}{
		{"exact normalized", []string{"  ALICE "}, []string{"e1"}},
		{"substring fallback", []string{"Acme"}, []string{"e2"}},
		{"no match", []string{"Zebra"}, nil},
		{"multiple", []string{"Alice", "Berlin"}, []string{"e1", "e3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindEntitiesByName(ctx, "doc1", tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d entities, want %d: %+v", len(got), len(tt.wantIDs), got)
			}
			for i, e := range got {
				if e.ID != tt.wantIDs[i] {
					t.Errorf("entity %d: got %s, want %s", i, e.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestSearch_RanksByTermHits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	chunks := []model.Chunk{
		{ID: "c1", DocumentID: "doc1", SequenceIndex: 0, Text: "Alice joined Acme in Berlin."},
		{ID: "c2", DocumentID: "doc1", SequenceIndex: 1, Text: "Acme ships software."},
		{ID: "c3", DocumentID: "doc1", SequenceIndex: 2, Text: "Nothing relevant here."},
	}
	if err := s.SaveChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "doc1", "Alice Acme", nil, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("expected c1 ranked first, got %s", results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected strictly higher score first: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestDeleteGraph_RemovesEntityIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.UpsertGraph(ctx, testGraph()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGraph(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEntity(ctx, "e1"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
