package graph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/model"
)

func chunk(id string, seq int) model.Chunk {
	return model.Chunk{ID: id, DocumentID: "doc1", SequenceIndex: seq}
}

func extraction(entities []inference.ExtractedEntity, rels []inference.ExtractedRelationship) *inference.Extraction {
	return &inference.Extraction{Entities: entities, Relationships: rels}
}

func TestMerge_DedupsEntitiesByNormalizedNameAndType(t *testing.T) {
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction([]inference.ExtractedEntity{
				{Name: "Alice Smith", Type: "person"},
			}, nil),
		},
		{
			Chunk: chunk("c2", 1),
			Result: extraction([]inference.ExtractedEntity{
				{Name: "  alice   smith ", Type: "PERSON"},
			}, nil),
		},
	}

	g, warnings := Merge("doc1", extractions, nil)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(g.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d: %+v", len(g.Entities), g.Entities)
	}
	e := g.Entities[0]
	if e.Type != model.EntityTypePerson {
		t.Errorf("expected person type, got %s", e.Type)
	}
	if len(e.Mentions) != 2 {
		t.Fatalf("expected mention union of 2, got %d", len(e.Mentions))
	}
	if e.Mentions[0].SequenceIndex != 0 || e.Mentions[1].SequenceIndex != 1 {
		t.Errorf("mentions not ordered by sequence index: %+v", e.Mentions)
	}
}

func TestMerge_DifferentTypesStayDistinct(t *testing.T) {
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction([]inference.ExtractedEntity{
				{Name: "Mercury", Type: "concept"},
				{Name: "Mercury", Type: "technology"},
			}, nil),
		},
	}

	g, _ := Merge("doc1", extractions, nil)
	if len(g.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(g.Entities))
	}
}

func TestMerge_Idempotent(t *testing.T) {
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction(
				[]inference.ExtractedEntity{
					{Name: "Alice", Type: "person"},
					{Name: "Acme", Type: "organization"},
				},
				[]inference.ExtractedRelationship{
					{SourceEntity: "Alice", TargetEntity: "Acme", Type: "works_at", Context: "Alice works at Acme."},
				},
			),
		},
	}

	first, _ := Merge("doc1", extractions, nil)
	second, _ := Merge("doc1", extractions, first)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-merge changed the graph:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMerge_StableIDsAcrossRuns(t *testing.T) {
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction([]inference.ExtractedEntity{
				{Name: "Alice", Type: "person"},
			}, nil),
		},
	}

	a, _ := Merge("doc1", extractions, nil)
	b, _ := Merge("doc1", extractions, nil)
	if a.Entities[0].ID != b.Entities[0].ID {
		t.Errorf("entity ids differ across runs: %s vs %s", a.Entities[0].ID, b.Entities[0].ID)
	}
}

func TestMerge_DanglingRelationshipDroppedWithWarning(t *testing.T) {
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction(
				[]inference.ExtractedEntity{
					{Name: "Alice", Type: "person"},
				},
				[]inference.ExtractedRelationship{
					{SourceEntity: "Alice", TargetEntity: "Ghost Corp", Type: "works_at"},
				},
			),
		},
	}

	g, warnings := Merge("doc1", extractions, nil)
	if len(g.Relationships) != 0 {
		t.Fatalf("expected dangling relationship to be dropped, got %+v", g.Relationships)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], "Ghost Corp") {
		t.Errorf("warning should name the missing endpoint: %q", warnings[0])
	}
}

func TestMerge_RelationshipDedupJoinsContexts(t *testing.T) {
	entities := []inference.ExtractedEntity{
		{Name: "Alice", Type: "person"},
		{Name: "Acme", Type: "organization"},
	}
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction(entities, []inference.ExtractedRelationship{
				{SourceEntity: "Alice", TargetEntity: "Acme", Type: "works_at", Context: "first context"},
			}),
		},
		{
			Chunk: chunk("c2", 1),
			Result: extraction(entities, []inference.ExtractedRelationship{
				{SourceEntity: "Alice", TargetEntity: "Acme", Type: "Works At", Context: "second context"},
			}),
		},
	}

	g, _ := Merge("doc1", extractions, nil)
	if len(g.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(g.Relationships))
	}
	r := g.Relationships[0]
	if r.Context != "first context | second context" {
		t.Errorf("unexpected joined context: %q", r.Context)
	}
}

func TestMerge_DistinctRelationshipTypesKept(t *testing.T) {
	entities := []inference.ExtractedEntity{
		{Name: "Alice", Type: "person"},
		{Name: "Acme", Type: "organization"},
	}
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction(entities, []inference.ExtractedRelationship{
				{SourceEntity: "Alice", TargetEntity: "Acme", Type: "works_at"},
				{SourceEntity: "Alice", TargetEntity: "Acme", Type: "founded"},
			}),
		},
	}

	g, _ := Merge("doc1", extractions, nil)
	if len(g.Relationships) != 2 {
		t.Fatalf("expected 2 relationships for distinct types, got %d", len(g.Relationships))
	}
}

func TestMerge_ContextCapped(t *testing.T) {
	entities := []inference.ExtractedEntity{
		{Name: "Alice", Type: "person"},
		{Name: "Acme", Type: "organization"},
	}
	long := strings.Repeat("x", maxContextBytes+500)
	extractions := []ChunkExtraction{
		{
			Chunk: chunk("c1", 0),
			Result: extraction(entities, []inference.ExtractedRelationship{
				{SourceEntity: "Alice", TargetEntity: "Acme", Type: "works_at", Context: long},
			}),
		},
	}

	g, _ := Merge("doc1", extractions, nil)
	if len(g.Relationships[0].Context) > maxContextBytes {
		t.Errorf("context exceeds cap: %d bytes", len(g.Relationships[0].Context))
	}
}
