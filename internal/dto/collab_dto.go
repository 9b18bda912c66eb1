package dto

// Client -> server message types
const (
	MessageUpdate      = "update"
	MessageUpdateChunk = "update_chunk"
	MessageSyncRequest = "sync_request"
	MessagePresence    = "presence"
	MessageParity      = "parity"
	MessagePing        = "ping"
)

// Server -> client message types
const (
	MessageWelcome      = "welcome"
	MessageSyncChunk    = "sync_chunk"
	MessageAck          = "ack"
	MessageError        = "error"
	MessageParityResult = "parity_result"
	MessagePong         = "pong"
)

// Error codes sent to the originating client only.
const (
	ErrorCodeAddressing      = "addressing"
	ErrorCodeMergeFailed     = "merge_failed"
	ErrorCodeSyncTimeout     = "sync_timeout"
	ErrorCodeInvalidChunk    = "invalid_chunk"
	ErrorCodeInvalidFormat   = "invalid_message"
	ErrorCodeInternal        = "internal"
	ErrorCodeSessionConflict = "session_conflict"
)

// ClientMessage is the single envelope accepted on the sync socket. Which
// optional group must be present depends on Type (see Complete).
type ClientMessage struct {
	Type     string           `json:"type" validate:"required,oneof=update update_chunk sync_request presence parity ping"`
	Payload  string           `json:"payload,omitempty" validate:"omitempty,base64"`
	Chunk    *ChunkInfo       `json:"chunk,omitempty"`
	Presence *PresencePayload `json:"presence,omitempty"`
	Parity   *ParityPayload   `json:"parity,omitempty"`
}

type ChunkInfo struct {
	SyncID     string `json:"sync_id" validate:"required,max=64"`
	ChunkIndex int    `json:"chunk_index" validate:"gte=0"`
	ChunkCount int    `json:"chunk_count" validate:"gte=1"`
	Payload    string `json:"payload" validate:"omitempty,base64"`
}

type SelectionRange struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gtefield=Start"`
}

// PresencePayload is what a client reports about itself. Identity (name,
// color) is filled in by the server from the authenticated session.
type PresencePayload struct {
	Cursor    *int            `json:"cursor" validate:"omitempty,gte=0"`
	Selection *SelectionRange `json:"selection"`
}

type ParityPayload struct {
	CharLength int    `json:"char_length" validate:"gte=0"`
	Checksum   string `json:"checksum" validate:"required,len=64,hexadecimal"`
}

// UpdateMessage fans an accepted delta out to every other client of the document.
type UpdateMessage struct {
	Type           string `json:"type"`
	DocumentID     string `json:"document_id"`
	OriginClientID string `json:"origin_client_id"`
	Seq            uint64 `json:"seq"`
	Payload        string `json:"payload"`
}

type SyncChunkMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	SyncID     string `json:"sync_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Payload    string `json:"payload"`
}

type PresenceMessage struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"client_id"`
	Name      string          `json:"name"`
	Color     string          `json:"color"`
	Cursor    *int            `json:"cursor"`
	Selection *SelectionRange `json:"selection"`
	Left      bool            `json:"left,omitempty"`
}

type AckMessage struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	Applied int    `json:"applied"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WelcomeMessage struct {
	Type       string            `json:"type"`
	DocumentID string            `json:"document_id"`
	ClientID   string            `json:"client_id"`
	CharLength int               `json:"char_length"`
	Checksum   string            `json:"checksum"`
	Seq        uint64            `json:"seq"`
	Resumed    bool              `json:"resumed"`
	Peers      []PresenceMessage `json:"peers"`
}

type ParityResultMessage struct {
	Type       string `json:"type"`
	Match      bool   `json:"match"`
	CharLength int    `json:"char_length"`
	Checksum   string `json:"checksum"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// Complete reports whether the group required by Type is present.
func (m ClientMessage) Complete() bool {
	switch m.Type {
	case MessageUpdate:
		return m.Payload != ""
	case MessageUpdateChunk:
		return m.Chunk != nil
	case MessagePresence:
		return m.Presence != nil
	case MessageParity:
		return m.Parity != nil
	}
	return true
}
