package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSinkUnavailable is returned when the sink cannot clear the collection
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrPartialUpload is returned when a batch fails after the collection was cleared
	ErrPartialUpload = errors.New("partial upload")
)

// Stamped field names added to every document
const (
	FieldUploadedAt = "uploaded_at"
	FieldDataType   = "data_type"
	FieldRecordID   = "record_id"
)

// Document is one record ready for the sink
type Document struct {
	ID     string         `json:"id"`  // <collection>_<seq>
	Seq    int            `json:"seq"` // 1-based position within the upload
	Fields map[string]any `json:"fields"`
}

// Sink is a persistent document store that can replace a collection
type Sink interface {
	// DeleteAll removes every document in collection and returns the count
	DeleteAll(ctx context.Context, collection string) (int, error)
	// InsertBatch stores docs and returns how many were written
	InsertBatch(ctx context.Context, collection string, docs []Document) (int, error)
}

// Options tunes batching and retries
type Options struct {
	BatchSize    int
	BatchSizes   map[string]int // per-collection override
	MaxAttempts  int
	RetryBackoff time.Duration // base delay, grows quadratically per attempt
	CallTimeout  time.Duration
}

// DefaultOptions returns the stock batching configuration
func DefaultOptions() Options {
	return Options{
		BatchSize:    500,
		BatchSizes:   map[string]int{"SecurityList": 200},
		MaxAttempts:  3,
		RetryBackoff: 500 * time.Millisecond,
		CallTimeout:  60 * time.Second,
	}
}

// Outcome summarizes one ReplaceCollection call
type Outcome struct {
	Collection string `json:"collection"`
	Deleted    int    `json:"deleted"`
	Inserted   int    `json:"inserted"`
	Batches    int    `json:"batches"`
}

// PartialUploadError reports a collection left partially populated
type PartialUploadError struct {
	Collection string
	Deleted    int
	Inserted   int
	Total      int
	Err        error
}

func (e *PartialUploadError) Error() string {
	return fmt.Sprintf("partial upload of %s: deleted %d, inserted %d of %d: %v",
		e.Collection, e.Deleted, e.Inserted, e.Total, e.Err)
}

func (e *PartialUploadError) Unwrap() []error { return []error{ErrPartialUpload, e.Err} }
