package uploader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
)

// memorySink keeps collections in memory and can fail on demand
type memorySink struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
	batches     []int
	deleteErr   error
	failBatch   int // 1-based batch number that always fails, 0 = none
	flaky       int // number of initial InsertBatch calls that fail
	calls       int
}

func newMemorySink() *memorySink {
	return &memorySink{collections: make(map[string]map[string]Document)}
}

func (m *memorySink) seed(collection string, n int) {
	docs := make(map[string]Document, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s_%d", collection, i)
		docs[id] = Document{ID: id, Seq: i}
	}
	m.collections[collection] = docs
}

func (m *memorySink) DeleteAll(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	n := len(m.collections[collection])
	delete(m.collections, collection)
	return n, nil
}

func (m *memorySink) InsertBatch(ctx context.Context, collection string, docs []Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.flaky > 0 {
		m.flaky--
		return 0, errors.New("transient failure")
	}
	if m.failBatch > 0 && len(m.batches)+1 == m.failBatch {
		return 0, errors.New("quota exceeded")
	}
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Document)
	}
	for _, d := range docs {
		m.collections[collection][d.ID] = d
	}
	m.batches = append(m.batches, len(docs))
	return len(docs), nil
}

func records(n int) []normalizer.Record {
	out := make([]normalizer.Record, n)
	for i := range out {
		out[i] = normalizer.Record{"Company": fmt.Sprintf("C%d", i), "Price": float64(i)}
	}
	return out
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	return opts
}

func TestReplaceCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("Should delete prior documents and insert nothing for empty input", func(t *testing.T) {
		sink := newMemorySink()
		sink.seed("Ipo", 50)
		svc := NewService(sink, fastOptions())

		out, err := svc.ReplaceCollection(ctx, "Ipo", []normalizer.Record{}, "IPO")

		require.NoError(t, err)
		assert.Equal(t, 50, out.Deleted)
		assert.Equal(t, 0, out.Inserted)
		assert.Equal(t, 0, out.Batches)
		assert.Empty(t, sink.collections["Ipo"])
	})

	t.Run("Should batch inserts with per-collection sizes", func(t *testing.T) {
		sink := newMemorySink()
		svc := NewService(sink, fastOptions())

		out, err := svc.ReplaceCollection(ctx, "SecurityList", records(450), "BSE_Security")

		require.NoError(t, err)
		assert.Equal(t, 450, out.Inserted)
		assert.Equal(t, 3, out.Batches)
		assert.Equal(t, []int{200, 200, 50}, sink.batches)
	})

	t.Run("Should stamp every document", func(t *testing.T) {
		sink := newMemorySink()
		svc := NewService(sink, fastOptions())
		fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		svc.now = func() time.Time { return fixed }

		recs := records(3)
		recs[1]["Price"] = math.Inf(1)
		_, err := svc.ReplaceCollection(ctx, "Ipo", recs, "IPO_Mainboard_Data")
		require.NoError(t, err)

		stored := sink.collections["Ipo"]
		require.Len(t, stored, 3)
		for seq := 1; seq <= 3; seq++ {
			doc := stored[fmt.Sprintf("Ipo_%d", seq)]
			assert.Equal(t, seq, doc.Seq)
			assert.Equal(t, seq, doc.Fields[FieldRecordID])
			assert.Equal(t, "IPO_Mainboard_Data", doc.Fields[FieldDataType])
			assert.Equal(t, "2025-01-02T03:04:05Z", doc.Fields[FieldUploadedAt])
		}
		assert.Nil(t, stored["Ipo_2"].Fields["Price"])
		assert.Equal(t, math.Inf(1), recs[1]["Price"], "Input records must not be modified")
	})

	t.Run("Should report sink unavailable when delete fails", func(t *testing.T) {
		sink := newMemorySink()
		sink.deleteErr = errors.New("connection refused")
		svc := NewService(sink, fastOptions())

		_, err := svc.ReplaceCollection(ctx, "Ipo", records(5), "IPO")

		assert.ErrorIs(t, err, ErrSinkUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 0, sink.calls)
	})

	t.Run("Should retry transient batch failures", func(t *testing.T) {
		sink := newMemorySink()
		sink.flaky = 2
		svc := NewService(sink, fastOptions())

		out, err := svc.ReplaceCollection(ctx, "Ipo", records(10), "IPO")

		require.NoError(t, err)
		assert.Equal(t, 10, out.Inserted)
		assert.Equal(t, 3, sink.calls)
	})

	t.Run("Should report partial upload with counts", func(t *testing.T) {
		sink := newMemorySink()
		sink.seed("Ipo", 7)
		sink.failBatch = 2
		opts := fastOptions()
		opts.BatchSize = 4
		svc := NewService(sink, opts)

		out, err := svc.ReplaceCollection(ctx, "Ipo", records(10), "IPO")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPartialUpload)
		var perr *PartialUploadError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 7, perr.Deleted)
		assert.Equal(t, 4, perr.Inserted)
		assert.Equal(t, 10, perr.Total)
		assert.Equal(t, 4, out.Inserted)
		assert.Equal(t, 1+3, sink.calls, "Failing batch should be attempted MaxAttempts times")
	})
}

func TestBuildDocuments(t *testing.T) {
	docs := BuildDocuments("IpoSme", records(3), "IPO_SME_Data", time.Now())

	seen := make(map[string]bool)
	for i, d := range docs {
		assert.Equal(t, i+1, d.Seq)
		assert.False(t, seen[d.ID], "Document ids must be unique")
		seen[d.ID] = true
	}
	assert.Equal(t, "IpoSme_1", docs[0].ID)
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("Should succeed on first attempt", func(t *testing.T) {
		attemptCount := 0
		err := retryWithBackoff(ctx, "test", func() error {
			attemptCount++
			return nil
		}, 3, time.Millisecond)

		assert.NoError(t, err)
		assert.Equal(t, 1, attemptCount, "Should only attempt once on success")
	})

	t.Run("Should retry up to maxAttempts times", func(t *testing.T) {
		attemptCount := 0
		err := retryWithBackoff(ctx, "test", func() error {
			attemptCount++
			return errors.New("temporary error")
		}, 3, time.Millisecond)

		assert.Error(t, err)
		assert.Equal(t, 3, attemptCount, "Should attempt exactly 3 times")
		assert.Contains(t, err.Error(), "failed after 3 attempts")
	})

	t.Run("Should use quadratic backoff", func(t *testing.T) {
		start := time.Now()
		_ = retryWithBackoff(ctx, "test", func() error {
			return errors.New("temporary error")
		}, 3, 10*time.Millisecond)

		// 10ms*1 + 10ms*4
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		attemptCount := 0
		err := retryWithBackoff(cctx, "test", func() error {
			attemptCount++
			return errors.New("temporary error")
		}, 5, time.Second)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attemptCount)
	})

	t.Run("Should wrap the last error", func(t *testing.T) {
		sentinel := errors.New("final")
		err := retryWithBackoff(ctx, "test", func() error { return sentinel }, 2, time.Millisecond)
		assert.ErrorIs(t, err, sentinel)
	})
}
