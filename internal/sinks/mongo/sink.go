// Package mongo stores documents in MongoDB collections
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

const (
	serverSelectionTimeout = 5 * time.Second
	duplicateKeyCode       = 11000
)

// Sink writes one MongoDB collection per dataset
type Sink struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and pings the primary
func Open(ctx context.Context, uri, database string) (*Sink, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if database == "" {
		database = "StockBroker"
	}

	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(serverSelectionTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("MongoDB sink ready", zap.String("database", database))
	return &Sink{client: client, db: client.Database(database)}, nil
}

// DeleteAll removes every document of collection
func (s *Sink) DeleteAll(ctx context.Context, collection string) (int, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", collection, err)
	}
	return int(res.DeletedCount), nil
}

// InsertBatch inserts docs unordered. Documents already present from an
// earlier attempt of the same batch count as written.
func (s *Sink) InsertBatch(ctx context.Context, collection string, docs []uploader.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	payload := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		payload = append(payload, ToBSON(d))
	}

	res, err := s.db.Collection(collection).InsertMany(ctx, payload, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && onlyDuplicates(bwe) {
			return len(docs), nil
		}
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		return inserted, fmt.Errorf("failed to insert %s documents: %w", collection, err)
	}
	return len(res.InsertedIDs), nil
}

// Close disconnects the client
func (s *Sink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ToBSON maps a document to its stored form, keyed by the document id
func ToBSON(d uploader.Document) bson.M {
	m := make(bson.M, len(d.Fields)+1)
	for k, v := range d.Fields {
		m[k] = v
	}
	m["_id"] = d.ID
	return m
}

func onlyDuplicates(bwe mongo.BulkWriteException) bool {
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}
