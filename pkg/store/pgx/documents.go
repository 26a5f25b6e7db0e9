package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

func (s *Store) CreateDocument(ctx context.Context, doc model.Document) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO documents (id, name, source_uri, status, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Name, doc.SourceURI, doc.Status, doc.ChunkCount, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := s.conn.QueryRow(ctx, `
		SELECT id, name, source_uri, status, chunk_count, created_at
		FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.Name, &doc.SourceURI, &doc.Status, &doc.ChunkCount, &doc.CreatedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, chunkCount int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE documents
		SET status = $2,
		    chunk_count = CASE WHEN $3 >= 0 THEN $3 ELSE chunk_count END
		WHERE id = $1`,
		id, status, chunkCount,
	)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
