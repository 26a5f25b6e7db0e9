package pgx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// UpsertGraph replaces the document's graph inside one transaction.
// Entity and relationship ids are content-derived, so rewriting the
// same graph is a no-op from the reader's point of view.
func (s *Store) UpsertGraph(ctx context.Context, graph *model.Graph) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert graph: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE document_id = $1`, graph.DocumentID); err != nil {
		return fmt.Errorf("upsert graph: clear relationships: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entity_mentions WHERE entity_id IN (SELECT id FROM entities WHERE document_id = $1)`, graph.DocumentID); err != nil {
		return fmt.Errorf("upsert graph: clear mentions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE document_id = $1`, graph.DocumentID); err != nil {
		return fmt.Errorf("upsert graph: clear entities: %w", err)
	}

	for _, e := range graph.Entities {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entities (id, document_id, name, type)
			VALUES ($1, $2, $3, $4)`,
			e.ID, graph.DocumentID, e.Name, e.Type,
		); err != nil {
			return fmt.Errorf("upsert graph: entity %s: %w", e.ID, err)
		}
		for _, m := range e.Mentions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO entity_mentions (entity_id, chunk_id, sequence_index, page_number)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (entity_id, chunk_id) DO NOTHING`,
				e.ID, m.ChunkID, m.SequenceIndex, m.PageNumber,
			); err != nil {
				return fmt.Errorf("upsert graph: mention %s/%s: %w", e.ID, m.ChunkID, err)
			}
		}
	}

	for _, r := range graph.Relationships {
		if _, err := tx.Exec(ctx, `
			INSERT INTO relationships (id, document_id, source_entity_id, target_entity_id, type, context)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, graph.DocumentID, r.SourceEntityID, r.TargetEntityID, r.Type, r.Context,
		); err != nil {
			return fmt.Errorf("upsert graph: relationship %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var e model.Entity
	err := s.conn.QueryRow(ctx, `
		SELECT id, document_id, name, type FROM entities WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.DocumentID, &e.Name, &e.Type)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}

	mentions, err := s.getMentions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	e.Mentions = mentions[id]
	return &e, nil
}

func (s *Store) GetRelationshipsFor(ctx context.Context, entityID string) ([]model.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, document_id, source_entity_id, target_entity_id, type, COALESCE(context, '')
		FROM relationships
		WHERE source_entity_id = $1 OR target_entity_id = $1
		ORDER BY id`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	return scanRelationships(rows)
}

func (s *Store) Traverse(ctx context.Context, documentID string, entityIDs []string, maxHops int) (*model.Graph, error) {
	if maxHops <= 0 {
		maxHops = 1
	}

	visited := make(map[string]bool)
	frontier := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	edges := make(map[string]model.Relationship)
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		rows, err := s.conn.Query(ctx, `
			SELECT id, document_id, source_entity_id, target_entity_id, type, COALESCE(context, '')
			FROM relationships
			WHERE document_id = $1
			  AND (source_entity_id = ANY($2) OR target_entity_id = ANY($2))`,
			documentID, frontier,
		)
		if err != nil {
			return nil, fmt.Errorf("traverse hop %d: %w", hop, err)
		}
		rels, err := scanRelationships(rows)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, r := range rels {
			edges[r.ID] = r
			for _, end := range []string{r.SourceEntityID, r.TargetEntityID} {
				if !visited[end] {
					visited[end] = true
					next = append(next, end)
				}
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	entities, err := s.getEntities(ctx, documentID, ids)
	if err != nil {
		return nil, err
	}

	out := &model.Graph{DocumentID: documentID, Entities: entities}
	for _, r := range edges {
		out.Relationships = append(out.Relationships, r)
	}
	sortGraph(out)
	return out, nil
}

func (s *Store) FindEntitiesByName(ctx context.Context, documentID string, names []string) ([]model.Entity, error) {
	seen := make(map[string]bool)
	var out []model.Entity

	for _, name := range names {
		normalized := model.NormalizeName(name)
		if normalized == "" {
			continue
		}

		rows, err := s.conn.Query(ctx, `
			SELECT id, document_id, name, type FROM entities
			WHERE document_id = $1
			  AND lower(regexp_replace(trim(name), '\s+', ' ', 'g')) = $2
			ORDER BY id`,
			documentID, normalized,
		)
		if err != nil {
			return nil, fmt.Errorf("find entities: %w", err)
		}
		exact, err := scanEntities(rows)
		if err != nil {
			return nil, err
		}

		matches := exact
		if len(matches) == 0 {
			rows, err := s.conn.Query(ctx, `
				SELECT id, document_id, name, type FROM entities
				WHERE document_id = $1
				  AND lower(regexp_replace(trim(name), '\s+', ' ', 'g')) LIKE '%' || $2 || '%' ESCAPE '\'
				ORDER BY id`,
				documentID, escapeLike(normalized),
			)
			if err != nil {
				return nil, fmt.Errorf("find entities (substring): %w", err)
			}
			matches, err = scanEntities(rows)
			if err != nil {
				return nil, err
			}
		}

		for _, e := range matches {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}

	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.ID
	}
	mentions, err := s.getMentions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Mentions = mentions[out[i].ID]
	}
	return out, nil
}

// escapeLike neutralizes LIKE metacharacters in a literal search term.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) ExportGraph(ctx context.Context, documentID string) (*model.Graph, error) {
	entities, err := s.getEntities(ctx, documentID, nil)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, document_id, source_entity_id, target_entity_id, type, COALESCE(context, '')
		FROM relationships WHERE document_id = $1 ORDER BY id`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("export graph: %w", err)
	}
	rels, err := scanRelationships(rows)
	if err != nil {
		return nil, err
	}

	out := &model.Graph{DocumentID: documentID, Entities: entities, Relationships: rels}
	sortGraph(out)
	return out, nil
}

func (s *Store) DeleteGraph(ctx context.Context, documentID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete graph: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete graph: relationships: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entity_mentions WHERE entity_id IN (SELECT id FROM entities WHERE document_id = $1)`, documentID); err != nil {
		return fmt.Errorf("delete graph: mentions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete graph: entities: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) getEntities(ctx context.Context, documentID string, ids []string) ([]model.Entity, error) {
	query := `SELECT id, document_id, name, type FROM entities WHERE document_id = $1`
	args := []any{documentID}
	if ids != nil {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return entities, nil
	}

	entityIDs := make([]string, len(entities))
	for i, e := range entities {
		entityIDs[i] = e.ID
	}
	mentions, err := s.getMentions(ctx, entityIDs)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		entities[i].Mentions = mentions[entities[i].ID]
	}
	return entities, nil
}

func (s *Store) getMentions(ctx context.Context, entityIDs []string) (map[string][]model.Mention, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT entity_id, chunk_id, sequence_index, COALESCE(page_number, 0)
		FROM entity_mentions
		WHERE entity_id = ANY($1)
		ORDER BY sequence_index ASC, chunk_id ASC`,
		entityIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("get mentions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Mention)
	for rows.Next() {
		var entityID string
		var m model.Mention
		if err := rows.Scan(&entityID, &m.ChunkID, &m.SequenceIndex, &m.PageNumber); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		out[entityID] = append(out[entityID], m)
	}
	return out, rows.Err()
}

func sortGraph(g *model.Graph) {
	sort.Slice(g.Entities, func(i, j int) bool { return g.Entities[i].ID < g.Entities[j].ID })
	sort.Slice(g.Relationships, func(i, j int) bool { return g.Relationships[i].ID < g.Relationships[j].ID })
}

func scanEntities(rows pgxv5.Rows) ([]model.Entity, error) {
	defer rows.Close()
	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Name, &e.Type); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRelationships(rows pgxv5.Rows) ([]model.Relationship, error) {
	defer rows.Close()
	var out []model.Relationship
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.SourceEntityID, &r.TargetEntityID, &r.Type, &r.Context); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
