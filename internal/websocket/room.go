package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"annotation-collab-be/internal/dto"
	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/pkg/shareddoc"
	"annotation-collab-be/pkg/syncproto"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// session outlives its connection for the reconnect grace window.
type session struct {
	Participant
	client      *Client
	graceTimer  *time.Timer
	epoch       uint64
	connectedAt time.Time
}

func (s *session) owner() string {
	return fmt.Sprintf("%s#%d", s.ClientID, s.epoch)
}

// inboundMessage is a client frame parsed on the client's read goroutine.
type inboundMessage struct {
	client *Client
	msg    dto.ClientMessage
	reject *dto.ErrorMessage
	update preparedUpdate
}

// preparedUpdate is an update payload decoded and validated off the room
// goroutine, so taxonomy lookups never hold up other clients.
type preparedUpdate struct {
	client *Client
	delta  *shareddoc.Prepared
	err    error
}

type graceEvent struct {
	clientID string
	epoch    uint64
}

type chunkExpiry struct {
	owner string
	err   *syncproto.SyncTransportError
}

type relayedUpdate struct {
	origin string
	delta  *shareddoc.Prepared
	err    error
}

// RoomStats is a point-in-time view of a room, mostly for tests and diagnostics.
type RoomStats struct {
	Sessions  int
	Connected int
	Presence  int
	Seq       uint64
}

type presenceEntry struct {
	msg dto.PresenceMessage
}

// Room owns everything about one active document: the gated replica, the
// client sessions and presence. A single goroutine (run) mutates that state;
// everything else talks to it through channels.
type Room struct {
	id       string
	doc      *shareddoc.Document
	checksum string
	hub      *Hub
	logger   logger.ILogger
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc

	register     chan *Client
	disconnect   chan *Client
	inbound      chan inboundMessage
	graceExpired chan graceEvent
	presenceGone chan string
	chunkExpired chan chunkExpiry
	prepared     chan preparedUpdate
	remote       chan relayedUpdate
	stats        chan chan RoomStats
	stop         chan struct{}
	done         chan struct{}

	sessions  map[string]*session
	presence  *cache.Cache
	assembler *syncproto.Assembler
	seq       uint64
}

func newRoom(id string, doc *shareddoc.Document, checksum string, hub *Hub) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:           id,
		doc:          doc,
		checksum:     checksum,
		hub:          hub,
		logger:       hub.logger,
		validate:     validator.New(),
		ctx:          ctx,
		cancel:       cancel,
		register:     make(chan *Client),
		disconnect:   make(chan *Client),
		inbound:      make(chan inboundMessage, 64),
		graceExpired: make(chan graceEvent),
		presenceGone: make(chan string),
		chunkExpired: make(chan chunkExpiry),
		prepared:     make(chan preparedUpdate),
		remote:       make(chan relayedUpdate, 64),
		stats:        make(chan chan RoomStats),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		sessions:     make(map[string]*session),
	}

	cleanup := hub.opts.PresenceTTL / 2
	if cleanup <= 0 {
		cleanup = time.Second
	}
	r.presence = cache.New(hub.opts.PresenceTTL, cleanup)
	// Eviction callbacks may fire on the room goroutine itself, so they
	// hand off asynchronously.
	r.presence.OnEvicted(func(clientID string, _ interface{}) {
		go func() {
			select {
			case r.presenceGone <- clientID:
			case <-r.done:
			}
		}()
	})
	r.assembler = syncproto.NewAssembler(hub.opts.ChunkTimeout, hub.opts.MaxChunks, func(key string, err *syncproto.SyncTransportError) {
		go func() {
			select {
			case r.chunkExpired <- chunkExpiry{owner: key, err: err}:
			case <-r.done:
			}
		}()
	})
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case c := <-r.register:
			r.join(c)
		case c := <-r.disconnect:
			r.drop(c)
		case in := <-r.inbound:
			r.handle(in)
		case ev := <-r.graceExpired:
			r.expire(ev)
		case clientID := <-r.presenceGone:
			r.presenceExpired(clientID)
		case ev := <-r.chunkExpired:
			r.chunkTimedOut(ev)
		case up := <-r.prepared:
			r.applyPrepared(up)
		case up := <-r.remote:
			r.applyRelayed(up)
		case reply := <-r.stats:
			reply <- r.snapshotStats()
		case <-r.stop:
			r.shutdown()
			return
		}
	}
}

// attach registers c with the room. It returns false when the room is gone.
func (r *Room) attach(c *Client) bool {
	select {
	case r.register <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) leave(c *Client) {
	select {
	case r.disconnect <- c:
	case <-r.done:
	}
}

func (r *Room) receive(c *Client, data []byte) {
	in := r.parse(c, data)
	select {
	case r.inbound <- in:
	case <-r.done:
	}
}

// parse runs on the reader goroutine of c.
func (r *Room) parse(c *Client, data []byte) inboundMessage {
	in := inboundMessage{client: c}
	reject := func(code, message string) inboundMessage {
		in.reject = &dto.ErrorMessage{Type: dto.MessageError, Code: code, Message: message}
		return in
	}

	if err := json.Unmarshal(data, &in.msg); err != nil {
		return reject(dto.ErrorCodeInvalidFormat, "malformed JSON")
	}
	if err := r.validate.Struct(in.msg); err != nil || !in.msg.Complete() {
		return reject(dto.ErrorCodeInvalidFormat, "invalid "+in.msg.Type+" message")
	}
	if in.msg.Type == dto.MessageUpdate {
		payload, err := base64.StdEncoding.DecodeString(in.msg.Payload)
		if err != nil {
			return reject(dto.ErrorCodeInvalidFormat, "payload is not base64")
		}
		in.update.client = c
		in.update.delta, in.update.err = r.doc.Prepare(r.ctx, payload)
	}
	return in
}

// Stats asks the room goroutine for its current counters.
func (r *Room) Stats(ctx context.Context) (RoomStats, error) {
	reply := make(chan RoomStats, 1)
	select {
	case r.stats <- reply:
	case <-r.done:
		return RoomStats{}, ErrRoomClosed
	case <-ctx.Done():
		return RoomStats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return RoomStats{}, ctx.Err()
	}
}

func (r *Room) snapshotStats() RoomStats {
	st := RoomStats{Sessions: len(r.sessions), Presence: r.presence.ItemCount(), Seq: r.seq}
	for _, s := range r.sessions {
		if s.client != nil {
			st.Connected++
		}
	}
	return st
}

func (r *Room) close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

func (r *Room) join(c *Client) {
	s, resumed := r.sessions[c.ClientID]
	if resumed && s.UserID != c.UserID {
		r.logger.Warn("Room", "Client id claimed by another user", map[string]interface{}{
			"document_id": r.id,
			"client_id":   c.ClientID,
			"user_id":     c.UserID,
		})
		r.sendError(c, dto.ErrorCodeSessionConflict, "client id is in use by another user")
		c.out.close()
		return
	}
	if resumed {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		if s.client != nil && s.client != c {
			s.client.out.close()
		}
		r.assembler.Discard(s.owner())
		s.epoch++
		s.client = c
		s.Participant = c.Participant
	} else {
		s = &session{Participant: c.Participant, client: c, connectedAt: time.Now()}
		r.sessions[c.ClientID] = s
		r.hub.publishActivity(r.ctx, Activity{Kind: ActivityJoined, DocumentID: r.id, ClientID: c.ClientID, UserID: c.UserID})
	}

	r.logger.Info("Room", "Client registered", map[string]interface{}{
		"document_id": r.id,
		"client_id":   c.ClientID,
		"user_id":     c.UserID,
		"resumed":     resumed,
	})

	r.send(c, dto.WelcomeMessage{
		Type:       dto.MessageWelcome,
		DocumentID: r.id,
		ClientID:   c.ClientID,
		CharLength: r.doc.Length(),
		Checksum:   r.checksum,
		Seq:        r.seq,
		Resumed:    resumed,
		Peers:      r.peers(c.ClientID),
	})
	r.sendFullSync(c)
}

// drop moves the session of c into the reconnect grace window.
func (r *Room) drop(c *Client) {
	s, ok := r.sessions[c.ClientID]
	if !ok || s.client != c {
		return
	}
	c.out.close()
	r.assembler.Discard(s.owner())
	s.client = nil

	ev := graceEvent{clientID: s.ClientID, epoch: s.epoch}
	s.graceTimer = time.AfterFunc(r.hub.opts.ReconnectGrace, func() {
		select {
		case r.graceExpired <- ev:
		case <-r.done:
		}
	})

	r.logger.Info("Room", "Client disconnected, grace window started", map[string]interface{}{
		"document_id": r.id,
		"client_id":   c.ClientID,
		"grace":       r.hub.opts.ReconnectGrace.String(),
	})
}

func (r *Room) expire(ev graceEvent) {
	s, ok := r.sessions[ev.clientID]
	if !ok || s.epoch != ev.epoch || s.client != nil {
		return
	}
	delete(r.sessions, ev.clientID)
	r.presence.Delete(ev.clientID)

	r.logger.Info("Room", "Session removed", map[string]interface{}{
		"document_id": r.id,
		"client_id":   ev.clientID,
	})
	r.hub.publishActivity(r.ctx, Activity{Kind: ActivityLeft, DocumentID: r.id, ClientID: s.ClientID, UserID: s.UserID})
}

func (r *Room) handle(in inboundMessage) {
	s, ok := r.sessions[in.client.ClientID]
	if !ok || s.client != in.client {
		return
	}
	c := in.client
	if in.reject != nil {
		r.send(c, *in.reject)
		return
	}
	msg := in.msg

	switch msg.Type {
	case dto.MessageUpdate:
		r.applyUpdate(s, in.update.delta, in.update.err)

	case dto.MessageUpdateChunk:
		r.receiveChunk(s, msg.Chunk)

	case dto.MessageSyncRequest:
		r.sendFullSync(c)

	case dto.MessagePresence:
		r.updatePresence(s, msg.Presence)

	case dto.MessageParity:
		r.checkParity(c, msg.Parity)

	case dto.MessagePing:
		if v, found := r.presence.Get(c.ClientID); found {
			r.presence.SetDefault(c.ClientID, v)
		}
		r.send(c, dto.PongMessage{Type: dto.MessagePong})
	}
}

func (r *Room) receiveChunk(s *session, info *dto.ChunkInfo) {
	payload, err := base64.StdEncoding.DecodeString(info.Payload)
	if err != nil {
		r.sendError(s.client, dto.ErrorCodeInvalidFormat, "chunk payload is not base64")
		return
	}
	data, complete, err := r.assembler.Add(s.owner(), syncproto.Chunk{
		SyncID:  info.SyncID,
		Index:   info.ChunkIndex,
		Count:   info.ChunkCount,
		Payload: payload,
	})
	if err != nil {
		r.sendError(s.client, dto.ErrorCodeInvalidChunk, err.Error())
		return
	}
	if !complete {
		return
	}
	c := s.client
	go func() {
		p, err := r.doc.Prepare(r.ctx, data)
		select {
		case r.prepared <- preparedUpdate{client: c, delta: p, err: err}:
		case <-r.done:
		}
	}()
}

// applyPrepared merges a reassembled update if its sender is still attached.
func (r *Room) applyPrepared(up preparedUpdate) {
	s, ok := r.sessions[up.client.ClientID]
	if !ok || s.client != up.client {
		return
	}
	r.applyUpdate(s, up.delta, up.err)
}

func (r *Room) chunkTimedOut(ev chunkExpiry) {
	clientID, _, _ := strings.Cut(ev.owner, "#")
	s, ok := r.sessions[clientID]
	r.logger.Warn("Room", "Chunked update discarded", map[string]interface{}{
		"document_id": r.id,
		"client_id":   clientID,
		"error":       ev.err.Error(),
	})
	if !ok || s.client == nil {
		return
	}
	owner, _, _ := strings.Cut(ev.owner, ":")
	if owner != s.owner() {
		return
	}
	r.sendError(s.client, dto.ErrorCodeSyncTimeout, ev.err.Error())
}

// applyUpdate merges a prepared delta from s and fans it out to everyone else.
func (r *Room) applyUpdate(s *session, p *shareddoc.Prepared, err error) {
	c := s.client
	if err != nil {
		var addrErr *shareddoc.AddressingError
		switch {
		case errors.As(err, &addrErr):
			r.logger.Info("Room", "Update rejected", map[string]interface{}{
				"document_id": r.id,
				"client_id":   s.ClientID,
				"error":       err.Error(),
			})
			r.sendError(c, dto.ErrorCodeAddressing, err.Error())
		case errors.Is(err, shareddoc.ErrMergeApplication):
			r.logger.Error("Room", "Dropped undecodable update", map[string]interface{}{
				"document_id": r.id,
				"client_id":   s.ClientID,
				"error":       err.Error(),
			})
			r.sendError(c, dto.ErrorCodeMergeFailed, "update could not be applied")
		default:
			r.logger.Error("Room", "Update failed", map[string]interface{}{
				"document_id": r.id,
				"client_id":   s.ClientID,
				"error":       err.Error(),
			})
			r.sendError(c, dto.ErrorCodeInternal, "update failed, retry")
		}
		return
	}

	effective, payload := r.doc.Commit(p)
	if len(effective) == 0 {
		r.send(c, dto.AckMessage{Type: dto.MessageAck, Seq: r.seq, Applied: 0})
		return
	}

	r.seq++
	r.hub.markDirty(r.id)
	r.broadcast(s.ClientID, dto.UpdateMessage{
		Type:           dto.MessageUpdate,
		DocumentID:     r.id,
		OriginClientID: s.ClientID,
		Seq:            r.seq,
		Payload:        base64.StdEncoding.EncodeToString(payload),
	})
	r.send(c, dto.AckMessage{Type: dto.MessageAck, Seq: r.seq, Applied: len(effective)})

	r.hub.relayUpdate(r.id, s.ClientID, payload)
	r.hub.publishActivity(r.ctx, Activity{
		Kind:       ActivityUpdate,
		DocumentID: r.id,
		ClientID:   s.ClientID,
		UserID:     s.UserID,
		Seq:        r.seq,
		Delta:      effective,
	})
}

// applyRelayed merges an update accepted by another instance.
func (r *Room) applyRelayed(up relayedUpdate) {
	if up.err != nil {
		r.logger.Error("Room", "Dropped relayed update", map[string]interface{}{
			"document_id": r.id,
			"origin":      up.origin,
			"error":       up.err.Error(),
		})
		return
	}
	effective, payload := r.doc.Commit(up.delta)
	if len(effective) == 0 {
		return
	}
	r.seq++
	r.broadcast(up.origin, dto.UpdateMessage{
		Type:           dto.MessageUpdate,
		DocumentID:     r.id,
		OriginClientID: up.origin,
		Seq:            r.seq,
		Payload:        base64.StdEncoding.EncodeToString(payload),
	})
	r.hub.markDirty(r.id)
}

func (r *Room) sendFullSync(c *Client) {
	snapshot := r.doc.Snapshot()
	syncID := uuid.NewString()
	for _, chunk := range syncproto.Split(syncID, snapshot, r.hub.opts.MaxChunkBytes) {
		data := r.encode(dto.SyncChunkMessage{
			Type:       dto.MessageSyncChunk,
			DocumentID: r.id,
			SyncID:     chunk.SyncID,
			ChunkIndex: chunk.Index,
			ChunkCount: chunk.Count,
			Payload:    base64.StdEncoding.EncodeToString(chunk.Payload),
		})
		if data != nil {
			c.out.pushSync(data)
		}
	}
}

func (r *Room) updatePresence(s *session, p *dto.PresencePayload) {
	length := r.doc.Length()
	if p.Cursor != nil && *p.Cursor > length {
		r.sendError(s.client, dto.ErrorCodeAddressing, fmt.Sprintf("cursor %d outside document of length %d", *p.Cursor, length))
		return
	}
	if p.Selection != nil && p.Selection.End > length {
		r.sendError(s.client, dto.ErrorCodeAddressing, fmt.Sprintf("selection end %d outside document of length %d", p.Selection.End, length))
		return
	}

	msg := dto.PresenceMessage{
		Type:      dto.MessagePresence,
		ClientID:  s.ClientID,
		Name:      s.Name,
		Color:     s.Color,
		Cursor:    p.Cursor,
		Selection: p.Selection,
	}
	r.presence.SetDefault(s.ClientID, presenceEntry{msg: msg})
	r.broadcastPresence(s.ClientID, msg)
}

// presenceExpired runs after the TTL lapsed or the session was removed.
func (r *Room) presenceExpired(clientID string) {
	if _, found := r.presence.Get(clientID); found {
		return
	}
	r.broadcastPresence(clientID, dto.PresenceMessage{Type: dto.MessagePresence, ClientID: clientID, Left: true})
}

func (r *Room) peers(self string) []dto.PresenceMessage {
	peers := []dto.PresenceMessage{}
	for id, item := range r.presence.Items() {
		if id == self {
			continue
		}
		peers = append(peers, item.Object.(presenceEntry).msg)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ClientID < peers[j].ClientID })
	return peers
}

func (r *Room) checkParity(c *Client, p *dto.ParityPayload) {
	match := p.CharLength == r.doc.Length() && strings.EqualFold(p.Checksum, r.checksum)
	if !match {
		r.logger.Error("Room", "Offset parity mismatch", map[string]interface{}{
			"document_id":     r.id,
			"client_id":       c.ClientID,
			"client_length":   p.CharLength,
			"server_length":   r.doc.Length(),
			"client_checksum": p.Checksum,
		})
	}
	r.send(c, dto.ParityResultMessage{
		Type:       dto.MessageParityResult,
		Match:      match,
		CharLength: r.doc.Length(),
		Checksum:   r.checksum,
	})
}

func (r *Room) encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("Room", "Failed to encode message", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return data
}

func (r *Room) send(c *Client, v interface{}) {
	data := r.encode(v)
	if data == nil || c == nil {
		return
	}
	if !c.out.pushContent(data) {
		r.overflow(c)
	}
}

func (r *Room) sendError(c *Client, code, message string) {
	r.send(c, dto.ErrorMessage{Type: dto.MessageError, Code: code, Message: message})
}

// broadcast queues v for every connected client except origin.
func (r *Room) broadcast(origin string, v interface{}) {
	data := r.encode(v)
	if data == nil {
		return
	}
	for id, s := range r.sessions {
		if id == origin || s.client == nil {
			continue
		}
		if !s.client.out.pushContent(data) {
			r.overflow(s.client)
		}
	}
}

func (r *Room) broadcastPresence(origin string, msg dto.PresenceMessage) {
	data := r.encode(msg)
	if data == nil {
		return
	}
	for id, s := range r.sessions {
		if id == origin || s.client == nil {
			continue
		}
		s.client.out.pushPresence(origin, data)
	}
}

// overflow cuts off a client that stopped reading. Its session enters the
// grace window once the read side notices the closed connection.
func (r *Room) overflow(c *Client) {
	if c.out.isClosed() {
		return
	}
	r.logger.Warn("Room", "Client backlog exceeded, disconnecting", map[string]interface{}{
		"document_id": r.id,
		"client_id":   c.ClientID,
	})
	c.out.close()
}

func (r *Room) shutdown() {
	r.cancel()
	for _, s := range r.sessions {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
		if s.client != nil {
			s.client.out.close()
		}
	}
	r.sessions = make(map[string]*session)
}
