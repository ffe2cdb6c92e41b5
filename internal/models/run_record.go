package models

import (
	"time"
)

// RunRecord is the persisted outcome of one pipeline run
type RunRecord struct {
	ID             string    `gorm:"primaryKey" json:"id"`                       // run id
	Mode           string    `gorm:"not null;default:full" json:"mode"`          // full, process_ipo, process_sme, process_securities, process_equity
	Status         string    `gorm:"not null;default:running" json:"status"`     // running, completed, failed
	Trigger        string    `gorm:"not null;default:manual" json:"trigger"`     // manual, schedule
	TasksCompleted int       `gorm:"not null;default:0;column:tasks_completed" json:"tasks_completed"`
	TotalTasks     int       `gorm:"not null;default:0;column:total_tasks" json:"total_tasks"`
	Errors         string    `gorm:"type:text" json:"errors"`  // JSON array of strings
	Results        string    `gorm:"type:text" json:"results"` // JSON RunResult
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// TableName specifies the table name for GORM
func (RunRecord) TableName() string {
	return "run_history"
}

// DocumentRow is one uploaded document in the SQL document store
type DocumentRow struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Collection string    `gorm:"not null;uniqueIndex:idx_documents_collection_doc" json:"collection"`
	DocID      string    `gorm:"not null;column:doc_id;uniqueIndex:idx_documents_collection_doc" json:"doc_id"`
	RecordID   int       `gorm:"not null;column:record_id" json:"record_id"`
	DataType   string    `gorm:"column:data_type" json:"data_type"`
	UploadedAt time.Time `gorm:"column:uploaded_at" json:"uploaded_at"`
	Data       string    `gorm:"type:text;not null" json:"data"` // JSON object
}

// TableName specifies the table name for GORM
func (DocumentRow) TableName() string {
	return "documents"
}
