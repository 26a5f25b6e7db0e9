// Package graph builds per-document knowledge graphs out of raw
// extraction output: normalization, dedup, mention union and dangling
// edge cleanup.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/model"
)

// maxContextBytes caps the concatenated relationship context.
const maxContextBytes = 2048

// ChunkExtraction pairs one chunk with the extraction the gateway
// produced for it.
type ChunkExtraction struct {
	Chunk  model.Chunk
	Result *inference.Extraction
}

// Merge folds extraction results into a per-document graph. Pure over
// its inputs: no I/O, no randomness, so re-merging the same inputs
// yields the same graph. An existing graph may be passed to fold new
// results into; nil starts fresh.
//
// Entities dedup on normalized name + type, unioning mention sets.
// Relationships dedup on (source, target, normalized type), joining
// distinct contexts with " | " up to a byte cap. Relationships whose
// endpoints did not survive as entities are dropped with a warning.
func Merge(documentID string, extractions []ChunkExtraction, existing *model.Graph) (*model.Graph, []string) {
	entities := make(map[string]*model.Entity)
	byName := make(map[string][]*model.Entity)
	relationships := make(map[string]*model.Relationship)
	var warnings []string

	addEntity := func(e model.Entity) *model.Entity {
		key := model.NormalizeName(e.Name) + "|" + string(e.Type)
		if existing, ok := entities[key]; ok {
			for _, m := range e.Mentions {
				existing.Mentions = unionMention(existing.Mentions, m)
			}
			return existing
		}
		cp := e
		cp.ID = model.EntityID(documentID, e.Type, e.Name)
		cp.DocumentID = documentID
		entities[key] = &cp
		name := model.NormalizeName(e.Name)
		byName[name] = append(byName[name], &cp)
		return &cp
	}

	addRelationship := func(r model.Relationship) {
		key := r.SourceEntityID + "|" + r.TargetEntityID + "|" + model.NormalizeName(r.Type)
		if existing, ok := relationships[key]; ok {
			existing.Context = joinContext(existing.Context, r.Context)
			return
		}
		cp := r
		cp.ID = model.RelationshipID(documentID, r.SourceEntityID, r.TargetEntityID, r.Type)
		cp.DocumentID = documentID
		cp.Context = capContext(cp.Context)
		relationships[key] = &cp
	}

	if existing != nil {
		for _, e := range existing.Entities {
			addEntity(e)
		}
		for _, r := range existing.Relationships {
			addRelationship(r)
		}
	}

	for _, ex := range extractions {
		if ex.Result == nil {
			continue
		}
		mention := model.Mention{
			ChunkID:       ex.Chunk.ID,
			SequenceIndex: ex.Chunk.SequenceIndex,
			PageNumber:    ex.Chunk.PageNumber,
		}

		for _, raw := range ex.Result.Entities {
			if strings.TrimSpace(raw.Name) == "" {
				continue
			}
			addEntity(model.Entity{
				Name:     strings.TrimSpace(raw.Name),
				Type:     model.ParseEntityType(raw.Type),
				Mentions: []model.Mention{mention},
			})
		}

		for _, raw := range ex.Result.Relationships {
			source := resolveEntity(byName, raw.SourceEntity)
			target := resolveEntity(byName, raw.TargetEntity)
			if source == nil || target == nil {
				warnings = append(warnings, fmt.Sprintf(
					"dropped relationship %q -> %q (%s): endpoint not in entity set (chunk %d)",
					raw.SourceEntity, raw.TargetEntity, raw.Type, ex.Chunk.SequenceIndex,
				))
				continue
			}
			relType := model.NormalizeName(raw.Type)
			if relType == "" {
				relType = "related_to"
			}
			addRelationship(model.Relationship{
				SourceEntityID: source.ID,
				TargetEntityID: target.ID,
				Type:           relType,
				Context:        strings.TrimSpace(raw.Context),
			})
		}
	}

	graph := &model.Graph{
		DocumentID:    documentID,
		Entities:      make([]model.Entity, 0, len(entities)),
		Relationships: make([]model.Relationship, 0, len(relationships)),
	}
	for _, e := range entities {
		sortMentions(e.Mentions)
		graph.Entities = append(graph.Entities, *e)
	}
	for _, r := range relationships {
		graph.Relationships = append(graph.Relationships, *r)
	}

	sort.Slice(graph.Entities, func(i, j int) bool {
		return graph.Entities[i].ID < graph.Entities[j].ID
	})
	sort.Slice(graph.Relationships, func(i, j int) bool {
		return graph.Relationships[i].ID < graph.Relationships[j].ID
	})

	return graph, warnings
}

// resolveEntity finds an extracted entity by normalized name. When the
// same name exists under several types, the lowest entity id wins so
// resolution stays deterministic.
func resolveEntity(byName map[string][]*model.Entity, name string) *model.Entity {
	candidates := byName[model.NormalizeName(name)]
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ID < best.ID {
			best = c
		}
	}
	return best
}

func unionMention(mentions []model.Mention, m model.Mention) []model.Mention {
	for _, existing := range mentions {
		if existing.ChunkID == m.ChunkID {
			return mentions
		}
	}
	return append(mentions, m)
}

func sortMentions(mentions []model.Mention) {
	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].SequenceIndex != mentions[j].SequenceIndex {
			return mentions[i].SequenceIndex < mentions[j].SequenceIndex
		}
		return mentions[i].ChunkID < mentions[j].ChunkID
	})
}

func joinContext(existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || strings.Contains(existing, incoming) {
		return existing
	}
	if existing == "" {
		return capContext(incoming)
	}
	return capContext(existing + " | " + incoming)
}

func capContext(s string) string {
	if len(s) <= maxContextBytes {
		return s
	}
	cut := maxContextBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
