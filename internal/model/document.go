// Package model defines the data structures shared across the pipeline.
package model

import "time"

// Indexing outcomes recorded in the knowledge_document registry.
const (
	IndexStatusPending   = 0
	IndexStatusIndexed   = 1
	IndexStatusFailed    = 2
	IndexStatusDestroyed = 3
)

// KnowledgeDocument is the ORM model for the knowledge_document table.
// One row per source document; it records the latest indexing outcome so
// that failures in a directory run can be inspected afterwards.
type KnowledgeDocument struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Source     string    `gorm:"type:varchar(512);not null;uniqueIndex" json:"source"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	Category   string    `gorm:"type:varchar(100)" json:"category"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	Status     int       `gorm:"type:tinyint;not null;default:0" json:"status"`
	LastError  string    `gorm:"type:text" json:"lastError,omitempty"`
	ArchiveKey string    `gorm:"type:varchar(512)" json:"archiveKey,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName names the table backing this model.
func (KnowledgeDocument) TableName() string {
	return "knowledge_document"
}
