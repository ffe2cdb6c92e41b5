package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SinkProfile is a named upload destination. The secret (password, token or
// credentials JSON) is stored encrypted.
type SinkProfile struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	Owner     string    `json:"owner"`
	SinkType  string    `gorm:"not null;column:sink_type" json:"sink_type"` // sqlite, postgres, pgx, rest, mongo, firestore
	Target    string    `gorm:"not null" json:"target"`                     // DSN, base URL or project id, without credentials
	Database  string    `json:"database"`
	SecretEnc string    `gorm:"column:secret_enc" json:"-"` // Encrypted, never expose in JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (sp *SinkProfile) BeforeCreate(tx *gorm.DB) error {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (SinkProfile) TableName() string {
	return "sink_profiles"
}
