package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Document is an imported annotation target. Content is immutable after
// import; FlatText, CharLength and Checksum are computed once from it.
type Document struct {
	Id         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title      string         `gorm:"type:varchar(255);not null"`
	Content    string         `gorm:"type:text;not null"`
	FlatText   string         `gorm:"type:text;not null"`
	CharLength int            `gorm:"not null"`
	Checksum   string         `gorm:"type:char(64);not null"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	CreatedBy  string         `gorm:"type:varchar(64);index"`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentSnapshot holds the latest canonical encoded shared state of a document.
type DocumentSnapshot struct {
	DocumentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Data       []byte    `gorm:"type:bytea;not null"`
	Checksum   string    `gorm:"type:char(64);not null"`
	Size       int       `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
