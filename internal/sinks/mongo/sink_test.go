package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

func TestToBSON(t *testing.T) {
	t.Run("Should key the stored document by its id", func(t *testing.T) {
		docs := uploader.BuildDocuments("Ipo", []normalizer.Record{{"Company": "Acme"}}, "IPO_Mainboard_Data", time.Now())
		m := ToBSON(docs[0])

		assert.Equal(t, "Ipo_1", m["_id"])
		assert.Equal(t, "Acme", m["Company"])
		assert.Equal(t, "IPO_Mainboard_Data", m[uploader.FieldDataType])
		assert.Equal(t, 1, m[uploader.FieldRecordID])
		assert.NotContains(t, docs[0].Fields, "_id", "source fields are not modified")
	})
}

func TestOnlyDuplicates(t *testing.T) {
	dup := mongo.WriteError{Code: duplicateKeyCode}
	other := mongo.WriteError{Code: 121}

	assert.True(t, onlyDuplicates(mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: dup}}}))
	assert.False(t, onlyDuplicates(mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: other}}}))
	assert.False(t, onlyDuplicates(mongo.BulkWriteException{}))
	assert.False(t, onlyDuplicates(mongo.BulkWriteException{
		WriteErrors:       []mongo.BulkWriteError{{WriteError: dup}},
		WriteConcernError: &mongo.WriteConcernError{Code: 64},
	}))
}

// Runs against a live server when STOCKSYNC_TEST_MONGODB_URI is set
func TestSinkLive(t *testing.T) {
	uri := os.Getenv("STOCKSYNC_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("STOCKSYNC_TEST_MONGODB_URI not set")
	}

	ctx := context.Background()
	sink, err := Open(ctx, uri, "stocksync_test")
	require.NoError(t, err)
	defer sink.Close()

	collection := "Ipo_" + time.Now().Format("150405.000")
	up := uploader.NewService(sink, uploader.Options{BatchSize: 2})

	records := []normalizer.Record{{"Company": "A"}, {"Company": "B"}, {"Company": "C"}}
	out, err := up.ReplaceCollection(ctx, collection, records, "IPO_Mainboard_Data")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Inserted)

	t.Run("Should treat a replayed batch as written", func(t *testing.T) {
		docs := uploader.BuildDocuments(collection, records[:2], "IPO_Mainboard_Data", time.Now())
		n, err := sink.InsertBatch(ctx, collection, docs)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Should replace the collection", func(t *testing.T) {
		out, err := up.ReplaceCollection(ctx, collection, records[:1], "IPO_Mainboard_Data")
		require.NoError(t, err)
		assert.Equal(t, 3, out.Deleted)
		assert.Equal(t, 1, out.Inserted)
	})

	_, err = sink.DeleteAll(ctx, collection)
	require.NoError(t, err)
}
