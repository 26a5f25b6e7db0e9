package pgx

import (
	"context"
	"fmt"
	"sort"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cortexbrain/cortex/pkg/model"
)

func (s *Store) SaveChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save chunks: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, sequence_index, text, page_number, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET text = EXCLUDED.text, embedding = EXCLUDED.embedding`,
			c.ID, c.DocumentID, c.SequenceIndex, c.Text, c.PageNumber, embedding,
		)
		if err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetChunks(ctx context.Context, documentID string, ids []string) ([]model.Chunk, error) {
	query := `
		SELECT id, document_id, sequence_index, text, COALESCE(page_number, 0)
		FROM chunks WHERE document_id = $1`
	args := []any{documentID}
	if ids != nil {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY sequence_index ASC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SequenceIndex, &c.Text, &c.PageNumber); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Search runs full-text ranking over the document's chunks, plus cosine
// similarity when a query embedding is supplied. A chunk found by both
// keeps its higher score.
func (s *Store) Search(ctx context.Context, documentID string, query string, embedding []float32, limit int) ([]model.RetrievalResult, error) {
	if limit <= 0 {
		limit = 10
	}

	byID := make(map[string]model.RetrievalResult)

	rows, err := s.conn.Query(ctx, `
		SELECT id, text, sequence_index,
		       ts_rank(to_tsvector('simple', text), plainto_tsquery('simple', $2)) AS score
		FROM chunks
		WHERE document_id = $1
		  AND to_tsvector('simple', text) @@ plainto_tsquery('simple', $2)
		ORDER BY score DESC, sequence_index ASC
		LIMIT $3`,
		documentID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if err := collectResults(rows, byID); err != nil {
		return nil, err
	}

	if len(embedding) > 0 {
		rows, err := s.conn.Query(ctx, `
			SELECT id, text, sequence_index,
			       1 - (embedding <=> $2) AS score
			FROM chunks
			WHERE document_id = $1 AND embedding IS NOT NULL
			ORDER BY embedding <=> $2
			LIMIT $3`,
			documentID, pgvector.NewVector(embedding), limit,
		)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		if err := collectResults(rows, byID); err != nil {
			return nil, err
		}
	}

	out := make([]model.RetrievalResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func collectResults(rows pgxv5.Rows, byID map[string]model.RetrievalResult) error {
	defer rows.Close()
	for rows.Next() {
		var r model.RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.Text, &r.SequenceIndex, &r.Score); err != nil {
			return fmt.Errorf("scan search result: %w", err)
		}
		if existing, ok := byID[r.ChunkID]; !ok || r.Score > existing.Score {
			byID[r.ChunkID] = r
		}
	}
	return rows.Err()
}

func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
