// Package firestore stores documents in Cloud Firestore collections
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

// Config selects the project and credentials. Credentials may be a file path
// or the service account JSON itself.
type Config struct {
	ProjectID   string
	Credentials string
}

// Sink writes one Firestore collection per dataset
type Sink struct {
	client *firestore.Client
}

// Open creates a Firestore client. With FIRESTORE_EMULATOR_HOST set the
// client talks to the emulator and credentials are ignored.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}

	var opts []option.ClientOption
	switch creds := strings.TrimSpace(cfg.Credentials); {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	logger.Info("Firestore sink ready", zap.String("project", cfg.ProjectID))
	return &Sink{client: client}, nil
}

// DeleteAll streams the collection and deletes every document through a bulk writer
func (s *Sink) DeleteAll(ctx context.Context, collection string) (int, error) {
	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob

	iter := s.client.Collection(collection).DocumentRefs(ctx)
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to list %s documents: %w", collection, err)
		}
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue delete of %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	return collect(jobs, "delete")
}

// InsertBatch sets every document by id, so a replayed batch overwrites itself
func (s *Sink) InsertBatch(ctx context.Context, collection string, docs []uploader.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	coll := s.client.Collection(collection)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := bw.Set(coll.Doc(d.ID), d.Fields)
		if err != nil {
			bw.End()
			n, _ := collect(jobs, "set")
			return n, fmt.Errorf("failed to queue %s: %w", d.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	return collect(jobs, "set")
}

// Close releases the client
func (s *Sink) Close() error {
	return s.client.Close()
}

// collect waits for every job and returns the successful count with the first failure
func collect(jobs []*firestore.BulkWriterJob, op string) (int, error) {
	ok := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok++
	}
	if firstErr != nil {
		failed := len(jobs) - ok
		logger.Warn("Firestore bulk write had failures", zap.String("op", op), zap.Int("failed", failed))
		return ok, fmt.Errorf("failed to %s %d documents: %w", op, failed, firstErr)
	}
	return ok, nil
}
