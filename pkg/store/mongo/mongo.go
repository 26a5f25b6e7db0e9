// Package mongo implements the BackupStore contract: one denormalized
// graph document per source document, kept as a secondary copy of the
// primary graph store.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

const defaultCollection = "knowledge_graphs"

// BackupStore persists whole graphs into a MongoDB collection keyed by
// document id.
type BackupStore struct {
	collection *mongo.Collection
}

// NewBackupStoreParams configures a BackupStore.
type NewBackupStoreParams struct {
	URI        string
	Database   string
	Collection string
}

// NewBackupStore connects to MongoDB and pings it so misconfiguration
// surfaces at startup rather than on the first write.
func NewBackupStore(ctx context.Context, params NewBackupStoreParams) (*BackupStore, error) {
	if params.Collection == "" {
		params.Collection = defaultCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(params.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &BackupStore{
		collection: client.Database(params.Database).Collection(params.Collection),
	}, nil
}

// NewBackupStoreWithCollection wraps an existing collection handle.
func NewBackupStoreWithCollection(collection *mongo.Collection) *BackupStore {
	return &BackupStore{collection: collection}
}

type graphDocument struct {
	DocumentID    string               `bson:"_id"`
	Entities      []model.Entity       `bson:"entities"`
	Relationships []model.Relationship `bson:"relationships"`
}

func (s *BackupStore) SaveGraph(ctx context.Context, graph *model.Graph) error {
	doc := graphDocument{
		DocumentID:    graph.DocumentID,
		Entities:      graph.Entities,
		Relationships: graph.Relationships,
	}
	_, err := s.collection.ReplaceOne(
		ctx,
		bson.M{"_id": graph.DocumentID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("backup graph %s: %w", graph.DocumentID, err)
	}
	return nil
}

func (s *BackupStore) LoadGraph(ctx context.Context, documentID string) (*model.Graph, error) {
	var doc graphDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load backup graph %s: %w", documentID, err)
	}
	return &model.Graph{
		DocumentID:    doc.DocumentID,
		Entities:      doc.Entities,
		Relationships: doc.Relationships,
	}, nil
}

func (s *BackupStore) DeleteGraph(ctx context.Context, documentID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": documentID})
	if err != nil {
		return fmt.Errorf("delete backup graph %s: %w", documentID, err)
	}
	return nil
}
