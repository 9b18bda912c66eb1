package dto

import (
	"time"

	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
)

type ImportDocumentRequest struct {
	Title    string                 `json:"title" validate:"required,max=255"`
	Content  string                 `json:"content" validate:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

type DocumentResponse struct {
	Id         uuid.UUID              `json:"id"`
	Title      string                 `json:"title"`
	CharLength int                    `json:"char_length"`
	Checksum   string                 `json:"checksum"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy  string                 `json:"created_by"`
	CreatedAt  time.Time              `json:"created_at"`
}

type ShowDocumentResponse struct {
	DocumentResponse
	Content  string `json:"content"`
	FlatText string `json:"flat_text"`
}

type LocateResponse struct {
	DocumentID string          `json:"document_id"`
	Position   offset.Position `json:"position"`
}

type DocumentStateResponse struct {
	shareddoc.State
	RoomState string `json:"room_state"`
}

type ParityRequest struct {
	CharLength int    `json:"char_length" validate:"gte=0"`
	Checksum   string `json:"checksum" validate:"required,len=64,hexadecimal"`
}

type ParityResponse struct {
	Match      bool   `json:"match"`
	CharLength int    `json:"char_length"`
	Checksum   string `json:"checksum"`
}

// ActivityMessage travels on the in-process activity topic.
type ActivityMessage struct {
	Kind         string    `json:"kind"`
	DocumentID   string    `json:"document_id"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id"`
	Seq          uint64    `json:"seq"`
	Ops          int       `json:"ops"`
	HighlightIDs []string  `json:"highlight_ids,omitempty"`
	At           time.Time `json:"at"`
}
