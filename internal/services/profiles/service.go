// Package profiles manages named sink connection profiles
package profiles

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Parsh06/Stock-Backend/internal/crypto"
	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
)

// ErrNotFound is returned for unknown profile names
var ErrNotFound = errors.New("profile not found")

var profileSinks = []string{"sqlite", "postgres", "pgx", "rest", "mongo", "firestore"}

// SaveRequest creates or updates a profile
type SaveRequest struct {
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	SinkType string `json:"sink_type"`
	Target   string `json:"target"`
	Database string `json:"database"`
	Secret   string `json:"secret"` // plain text, stored encrypted; empty keeps the current secret
}

// Service stores profiles in the local database
type Service struct {
	db *gorm.DB
}

// NewService creates a profile service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Save creates the profile or updates the one with the same name
func (s *Service) Save(req SaveRequest) (*models.SinkProfile, error) {
	if req.Name == "" || req.Target == "" {
		return nil, fmt.Errorf("name and target are required")
	}
	if !slices.Contains(profileSinks, req.SinkType) {
		return nil, fmt.Errorf("invalid sink type %q (valid: %v)", req.SinkType, profileSinks)
	}
	if req.Secret != "" && !crypto.IsInitialized() {
		return nil, errors.New("encryption system not initialized - cannot save secrets")
	}

	var profile models.SinkProfile
	err := s.db.Where("name = ?", req.Name).First(&profile).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	profile.Name = req.Name
	profile.Owner = req.Owner
	profile.SinkType = req.SinkType
	profile.Target = req.Target
	profile.Database = req.Database

	if req.Secret != "" {
		enc, err := crypto.EncryptSecret(req.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt secret: %w", err)
		}
		profile.SecretEnc = enc
	}

	if isNew {
		err = s.db.Create(&profile).Error
	} else {
		err = s.db.Save(&profile).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	logger.Info("Saved sink profile", zap.String("profile", profile.Name), zap.String("sink", profile.SinkType), zap.Bool("created", isNew))
	return &profile, nil
}

// List returns all profiles ordered by name
func (s *Service) List() ([]models.SinkProfile, error) {
	var profiles []models.SinkProfile
	if err := s.db.Order("name").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// Get loads a profile by name
func (s *Service) Get(name string) (*models.SinkProfile, error) {
	var profile models.SinkProfile
	if err := s.db.Where("name = ?", name).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

// Resolve loads a profile and decrypts its secret
func (s *Service) Resolve(name string) (*models.SinkProfile, string, error) {
	profile, err := s.Get(name)
	if err != nil {
		return nil, "", err
	}
	secret, err := crypto.DecryptSecret(profile.SecretEnc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt secret of profile %s: %w", name, err)
	}
	return profile, secret, nil
}

// Delete removes a profile by name
func (s *Service) Delete(name string) error {
	result := s.db.Where("name = ?", name).Delete(&models.SinkProfile{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
