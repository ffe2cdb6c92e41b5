package export

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
)

func TestWrite(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

	t.Run("Should write metadata and data", func(t *testing.T) {
		dir := t.TempDir()
		w := NewWriter(dir)
		w.now = func() time.Time { return fixed }

		rs := &normalizer.RecordSet{
			Columns: []string{"Company", "Price"},
			Records: []normalizer.Record{
				{"Company": "Acme", "Price": 10.5},
				{"Company": "Bolt", "Price": math.NaN()},
			},
		}

		path, err := w.Write("ipo-main.json", "IPO_Mainboard_Data", rs)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "ipo-main.json"), path)

		doc, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, "IPO_Mainboard_Data", doc.Metadata.DataType)
		assert.Equal(t, 2, doc.Metadata.TotalRecords)
		assert.Equal(t, GeneratedBy, doc.Metadata.GeneratedBy)
		assert.True(t, doc.Metadata.UploadedAt.Equal(fixed))
		assert.Equal(t, "Acme", doc.Data[0]["Company"])
		assert.Nil(t, doc.Data[1]["Price"])

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(raw), "{\n    \"metadata\""), "Should use 4-space indent")
	})

	t.Run("Should write an empty data array", func(t *testing.T) {
		w := NewWriter(t.TempDir())

		path, err := w.WriteFrom("Security.json", "BSE_Security_Names", "Equity.csv", &normalizer.RecordSet{})
		require.NoError(t, err)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"data": []`)
		assert.Contains(t, string(raw), `"source_file": "Equity.csv"`)
	})

	t.Run("Should leave no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		w := NewWriter(dir)

		_, err := w.Write("a.json", "A", &normalizer.RecordSet{})
		require.NoError(t, err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.json", entries[0].Name())
	})
}
