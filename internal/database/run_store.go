package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Parsh06/Stock-Backend/internal/models"
)

// RunStore persists run history
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a run store over db
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun inserts or updates rec
func (s *RunStore) SaveRun(ctx context.Context, rec *models.RunRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.RunRecord
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run by id
func (s *RunStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return &run, nil
}
