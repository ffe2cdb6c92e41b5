package uploader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
)

// Service replaces collections in a sink
type Service struct {
	sink Sink
	opts Options
	now  func() time.Time
}

// NewService creates an uploader over sink
func NewService(sink Sink, opts Options) *Service {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	return &Service{sink: sink, opts: opts, now: time.Now}
}

// BatchSize returns the batch size used for collection
func (s *Service) BatchSize(collection string) int {
	if n, ok := s.opts.BatchSizes[collection]; ok && n > 0 {
		return n
	}
	return s.opts.BatchSize
}

// ReplaceCollection deletes everything in collection and inserts records in
// batches. The delete and the inserts are not atomic: a failing batch leaves
// the collection partially populated and is reported as *PartialUploadError.
func (s *Service) ReplaceCollection(ctx context.Context, collection string, records []normalizer.Record, dataType string) (*Outcome, error) {
	outcome := &Outcome{Collection: collection}

	logger.Info("Clearing collection", zap.String("collection", collection))
	deleted, err := s.deleteAll(ctx, collection)
	if err != nil {
		logger.Error("Failed to clear collection", zap.String("collection", collection), zap.Error(err))
		return outcome, fmt.Errorf("failed to clear %s: %w: %w", collection, ErrSinkUnavailable, err)
	}
	outcome.Deleted = deleted
	logger.Info("Deleted existing documents", zap.String("collection", collection), zap.Int("deleted", deleted))

	docs := BuildDocuments(collection, records, dataType, s.now())
	size := s.BatchSize(collection)

	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		batchNo := outcome.Batches + 1

		var inserted int
		label := fmt.Sprintf("%s batch %d", collection, batchNo)
		err := retryWithBackoff(ctx, label, func() error {
			n, err := s.insertBatch(ctx, collection, batch)
			inserted = n
			return err
		}, s.opts.MaxAttempts, s.opts.RetryBackoff)
		if err != nil {
			perr := &PartialUploadError{
				Collection: collection,
				Deleted:    outcome.Deleted,
				Inserted:   outcome.Inserted,
				Total:      len(docs),
				Err:        err,
			}
			logger.Error("Upload left collection partially populated",
				zap.String("collection", collection),
				zap.Int("deleted", perr.Deleted),
				zap.Int("inserted", perr.Inserted),
				zap.Int("total", perr.Total),
				zap.Error(err))
			return outcome, perr
		}

		outcome.Inserted += inserted
		outcome.Batches++
		logger.Info("Uploaded batch",
			zap.String("collection", collection),
			zap.Int("batch", batchNo),
			zap.Int("inserted", outcome.Inserted),
			zap.Int("total", len(docs)))
	}

	logger.Info("Collection replaced",
		zap.String("collection", collection),
		zap.Int("deleted", outcome.Deleted),
		zap.Int("inserted", outcome.Inserted))
	return outcome, nil
}

func (s *Service) deleteAll(ctx context.Context, collection string) (int, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.sink.DeleteAll(ctx, collection)
}

func (s *Service) insertBatch(ctx context.Context, collection string, batch []Document) (int, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.sink.InsertBatch(ctx, collection, batch)
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// BuildDocuments stamps records with upload metadata and assigns ids
func BuildDocuments(collection string, records []normalizer.Record, dataType string, at time.Time) []Document {
	uploadedAt := at.UTC().Format(time.RFC3339Nano)
	docs := make([]Document, len(records))
	for i, r := range records {
		seq := i + 1
		fields := make(map[string]any, len(r)+3)
		for k, v := range r {
			fields[k] = v
		}
		normalizer.Sanitize(fields)
		fields[FieldUploadedAt] = uploadedAt
		fields[FieldDataType] = dataType
		fields[FieldRecordID] = seq
		docs[i] = Document{
			ID:     fmt.Sprintf("%s_%d", collection, seq),
			Seq:    seq,
			Fields: fields,
		}
	}
	return docs
}

// retryWithBackoff retries operation up to maxAttempts times, sleeping
// base*attempt² between attempts (500ms, 2s, 4.5s with the default base)
func retryWithBackoff(ctx context.Context, label string, operation func() error, maxAttempts int, base time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded on retry", zap.String("op", label), zap.Int("attempt", attempt), zap.Int("max", maxAttempts))
			}
			return nil
		}

		lastErr = err

		// Don't sleep after last attempt
		if attempt < maxAttempts {
			backoff := base * time.Duration(attempt*attempt)
			logger.Warn("Attempt failed, retrying",
				zap.String("op", label),
				zap.Int("attempt", attempt),
				zap.Int("max", maxAttempts),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(backoff):
			}
		} else {
			logger.Error("All attempts failed", zap.String("op", label), zap.Int("max", maxAttempts), zap.Error(err))
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
