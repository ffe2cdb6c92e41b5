package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

// GormSink stores documents in the documents table of a SQLite or Postgres database
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a sink over an already migrated database
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// OpenGormSink opens a dedicated sink database at url. An empty url is an
// error rather than a fallback to the application database.
func OpenGormSink(url string) (*GormSink, error) {
	if url == "" {
		return nil, fmt.Errorf("sink database url is required")
	}
	dialector, err := Dialector(url)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.NewGormLogger(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sink database: %w", err)
	}
	if err := db.AutoMigrate(&models.DocumentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}
	logger.Info("Opened sink database", zap.String("location", Location(url)))
	return &GormSink{db: db}, nil
}

// DeleteAll removes every document of collection
func (s *GormSink) DeleteAll(ctx context.Context, collection string) (int, error) {
	result := s.db.WithContext(ctx).Where("collection = ?", collection).Delete(&models.DocumentRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", collection, result.Error)
	}
	return int(result.RowsAffected), nil
}

// InsertBatch writes docs in one transaction, replacing rows with the same id
func (s *GormSink) InsertBatch(ctx context.Context, collection string, docs []uploader.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	rows := make([]models.DocumentRow, 0, len(docs))
	for _, d := range docs {
		row, err := toDocumentRow(collection, d)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"record_id", "data_type", "uploaded_at", "data"}),
		}).CreateInBatches(&rows, len(rows)).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s batch: %w", collection, err)
	}
	return len(rows), nil
}

// Count returns the number of stored documents in collection
func (s *GormSink) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.DocumentRow{}).Where("collection = ?", collection).Count(&n).Error
	return n, err
}

// Close closes the underlying connection pool
func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDocumentRow(collection string, d uploader.Document) (models.DocumentRow, error) {
	data, err := json.Marshal(d.Fields)
	if err != nil {
		return models.DocumentRow{}, fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	row := models.DocumentRow{
		Collection: collection,
		DocID:      d.ID,
		RecordID:   d.Seq,
		Data:       string(data),
	}
	if dt, ok := d.Fields[uploader.FieldDataType].(string); ok {
		row.DataType = dt
	}
	row.UploadedAt = uploadedAt(d)
	return row, nil
}

func uploadedAt(d uploader.Document) time.Time {
	if s, ok := d.Fields[uploader.FieldUploadedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
