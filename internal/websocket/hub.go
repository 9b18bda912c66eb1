package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/pkg/shareddoc"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrHubClosed  = errors.New("hub is closed")
	ErrRoomClosed = errors.New("room is closed")
)

// DocumentLoader brings a document and its persisted state into memory.
// The checksum is the parity checksum of the document's character sequence.
type DocumentLoader interface {
	Load(ctx context.Context, documentID string) (*shareddoc.Document, string, error)
}

// DirtyMarker is told about every document whose state changed.
type DirtyMarker interface {
	MarkDirty(documentID string)
}

type ActivityKind string

const (
	ActivityUpdate ActivityKind = "update"
	ActivityJoined ActivityKind = "participant_joined"
	ActivityLeft   ActivityKind = "participant_left"
)

type Activity struct {
	Kind       ActivityKind
	DocumentID string
	ClientID   string
	UserID     string
	Seq        uint64
	Delta      shareddoc.Delta
	At         time.Time
}

type ActivityPublisher interface {
	PublishActivity(ctx context.Context, a Activity)
}

// Relay carries accepted updates between server instances.
type Relay interface {
	Publish(ctx context.Context, documentID, origin string, payload []byte) error
	Run(ctx context.Context, deliver func(documentID, origin string, payload []byte)) error
}

type Options struct {
	InstanceID     string
	ReconnectGrace time.Duration
	PresenceTTL    time.Duration
	ChunkTimeout   time.Duration
	MaxChunkBytes  int
	MaxChunks      int
	MaxBacklog     int
	MaxMessageSize int64
}

// RoomState is the lifecycle of a document inside the hub.
type RoomState string

const (
	RoomUnloaded RoomState = "UNLOADED"
	RoomLoading  RoomState = "LOADING"
	RoomActive   RoomState = "ACTIVE"
)

type roomEntry struct {
	ready chan struct{}
	room  *Room
	err   error
}

// Hub maps document ids to their rooms and loads documents on first use.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*roomEntry
	closed bool

	loader   DocumentLoader
	dirty    DirtyMarker
	activity ActivityPublisher
	relay    Relay
	opts     Options
	logger   logger.ILogger
}

func NewHub(loader DocumentLoader, dirty DirtyMarker, activity ActivityPublisher, relay Relay, opts Options, log logger.ILogger) *Hub {
	return &Hub{
		rooms:    make(map[string]*roomEntry),
		loader:   loader,
		dirty:    dirty,
		activity: activity,
		relay:    relay,
		opts:     opts,
		logger:   log,
	}
}

// Room returns the active room of documentID, loading it if needed.
// Concurrent callers share a single load.
func (h *Hub) Room(ctx context.Context, documentID string) (*Room, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	entry, ok := h.rooms[documentID]
	if !ok {
		entry = &roomEntry{ready: make(chan struct{})}
		h.rooms[documentID] = entry
		h.mu.Unlock()
		h.load(ctx, documentID, entry)
	} else {
		h.mu.Unlock()
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.room, nil
}

func (h *Hub) load(ctx context.Context, documentID string, entry *roomEntry) {
	defer close(entry.ready)

	doc, checksum, err := h.loader.Load(ctx, documentID)
	if err != nil {
		entry.err = err
		h.mu.Lock()
		delete(h.rooms, documentID)
		h.mu.Unlock()
		h.logger.Error("Hub", "Failed to load document", map[string]interface{}{
			"document_id": documentID,
			"error":       err.Error(),
		})
		return
	}

	room := newRoom(documentID, doc, checksum, h)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		entry.err = ErrHubClosed
		return
	}
	entry.room = room
	h.mu.Unlock()

	go room.run()
	h.logger.Info("Hub", "Room activated", map[string]interface{}{
		"document_id": documentID,
		"char_length": doc.Length(),
		"version":     doc.Version(),
	})
}

// State reports where documentID is in its lifecycle.
func (h *Hub) State(documentID string) RoomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.rooms[documentID]
	if !ok {
		return RoomUnloaded
	}
	if entry.room == nil {
		return RoomLoading
	}
	return RoomActive
}

func (h *Hub) activeRoom(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.rooms[documentID]; ok {
		return entry.room
	}
	return nil
}

// Snapshot returns the canonical encoded state of an active document.
func (h *Hub) Snapshot(documentID string) ([]byte, bool) {
	room := h.activeRoom(documentID)
	if room == nil {
		return nil, false
	}
	return room.doc.Snapshot(), true
}

// Document returns the in-memory replica of an active document.
func (h *Hub) Document(documentID string) (*shareddoc.Document, bool) {
	room := h.activeRoom(documentID)
	if room == nil {
		return nil, false
	}
	return room.doc, true
}

// Active lists the ids of every active document.
func (h *Hub) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id, entry := range h.rooms {
		if entry.room != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Run consumes the relay until ctx is done. Without a relay it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Run(ctx, h.deliverRelayed)
}

func (h *Hub) deliverRelayed(documentID, origin string, payload []byte) {
	room := h.activeRoom(documentID)
	if room == nil {
		// Not loaded here; the next load reads persisted state.
		return
	}
	// Validation may call the taxonomy, so it happens before the hand-off.
	p, err := room.doc.Prepare(room.ctx, payload)
	select {
	case room.remote <- relayedUpdate{origin: origin, delta: p, err: err}:
	case <-room.done:
	}
}

// MergeStored folds state another instance persisted into the active room of
// documentID and broadcasts whatever was new to its clients.
func (h *Hub) MergeStored(documentID string, stored []byte) {
	h.deliverRelayed(documentID, "", stored)
}

// Close stops every room. Persisted state is flushed by the caller.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, entry := range h.rooms {
		if entry.room != nil {
			rooms = append(rooms, entry.room)
		}
	}
	h.mu.Unlock()

	for _, room := range rooms {
		room.close()
	}
}

func (h *Hub) markDirty(documentID string) {
	if h.dirty != nil {
		h.dirty.MarkDirty(documentID)
	}
}

func (h *Hub) publishActivity(ctx context.Context, a Activity) {
	if h.activity == nil {
		return
	}
	a.At = time.Now().UTC()
	h.activity.PublishActivity(ctx, a)
}

func (h *Hub) relayUpdate(documentID, origin string, payload []byte) {
	if h.relay == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.relay.Publish(ctx, documentID, origin, payload); err != nil {
			h.logger.Warn("Hub", "Relay publish failed", map[string]interface{}{
				"document_id": documentID,
				"error":       err.Error(),
			})
		}
	}()
}

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#42d4f4", "#f032e6", "#469990", "#9a6324", "#800000",
}

// ColorFor picks a stable presence color for a user.
func ColorFor(userID string) string {
	sum := blake2b.Sum256([]byte(userID))
	return palette[int(sum[0])%len(palette)]
}

