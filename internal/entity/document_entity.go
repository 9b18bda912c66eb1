package entity

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id         uuid.UUID
	Title      string
	Content    string
	FlatText   string
	CharLength int
	Checksum   string
	Metadata   map[string]interface{}
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}
