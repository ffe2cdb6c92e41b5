package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
)

// GeneratedBy is stamped into every document's metadata
const GeneratedBy = "stocksync"

// Metadata heads every exported document
type Metadata struct {
	DataType     string    `json:"data_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
	TotalRecords int       `json:"total_records"`
	SourceFile   string    `json:"source_file,omitempty"`
	GeneratedBy  string    `json:"generated_by"`
}

// Document is the on-disk layout of one dataset
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Data     []map[string]any `json:"data"`
}

// Writer writes dataset documents into one output directory
type Writer struct {
	Dir string
	now func() time.Time
}

// NewWriter creates a writer over dir
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// Write stores records as dir/file and returns the final path. The file is
// written to a temporary name first and renamed into place.
func (w *Writer) Write(file, dataType string, rs *normalizer.RecordSet) (string, error) {
	return w.WriteFrom(file, dataType, "", rs)
}

// WriteFrom is Write with the source file recorded in the metadata
func (w *Writer) WriteFrom(file, dataType, source string, rs *normalizer.RecordSet) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data := rs.Maps()
	if data == nil {
		data = []map[string]any{}
	}
	normalizer.Sanitize(data)

	doc := Document{
		Metadata: Metadata{
			DataType:     dataType,
			UploadedAt:   w.now().UTC(),
			TotalRecords: len(data),
			SourceFile:   source,
			GeneratedBy:  GeneratedBy,
		},
		Data: data,
	}

	payload, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", file, err)
	}

	target := filepath.Join(w.Dir, file)
	tmp, err := os.CreateTemp(w.Dir, "."+file+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", file, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", file, err)
	}

	logger.Info("Saved dataset", zap.String("file", target), zap.Int("records", len(data)), zap.String("data_type", dataType))
	return target, nil
}

// Read loads a previously written document
func Read(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &doc, nil
}
