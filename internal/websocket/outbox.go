package websocket

import "sync"

// outbox is the per-client send queue. Content messages are never dropped:
// once more than maxBacklog are waiting, the client is cut off instead and
// catches up through a full sync when it reconnects. Full sync chunks do not
// count against the limit. Presence is coalesced to the latest message per
// peer.
type outbox struct {
	mu         sync.Mutex
	content    [][]byte
	presence   map[string][]byte
	peers      []string
	maxBacklog int
	syncing    int // queued full sync chunks
	closed     bool
	notify     chan struct{}
}

func newOutbox(maxBacklog int) *outbox {
	return &outbox{
		presence:   make(map[string][]byte),
		maxBacklog: maxBacklog,
		notify:     make(chan struct{}, 1),
	}
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// pushContent queues msg and reports false when the backlog limit is exceeded.
func (o *outbox) pushContent(msg []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return true
	}
	if o.maxBacklog > 0 && len(o.content)-o.syncing >= o.maxBacklog {
		o.mu.Unlock()
		return false
	}
	o.content = append(o.content, msg)
	o.mu.Unlock()
	o.wake()
	return true
}

func (o *outbox) pushSync(msg []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.content = append(o.content, msg)
	o.syncing++
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) pushPresence(peer string, msg []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, ok := o.presence[peer]; !ok {
		o.peers = append(o.peers, peer)
	}
	o.presence[peer] = msg
	o.mu.Unlock()
	o.wake()
}

// drain takes everything queued, content first.
func (o *outbox) drain() ([][]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := o.content
	o.content = nil
	o.syncing = 0
	for _, peer := range o.peers {
		msgs = append(msgs, o.presence[peer])
	}
	o.peers = nil
	o.presence = make(map[string][]byte)
	return msgs, o.closed
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
