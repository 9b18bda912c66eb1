// Package syncproto splits payloads that exceed one transport message into
// ordered chunks and reassembles them on the receiving side.
package syncproto

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	ErrSyncTransport = errors.New("sync transport error")
	ErrInvalidChunk  = errors.New("invalid chunk")
)

// SyncTransportError reports a chunk sequence that did not complete in time.
// The partial buffer is gone; the receiver must request the full state again.
type SyncTransportError struct {
	SyncID   string
	Received int
	Count    int
}

func (e *SyncTransportError) Error() string {
	return fmt.Sprintf("sync %s timed out with %d of %d chunks", e.SyncID, e.Received, e.Count)
}

func (e *SyncTransportError) Is(target error) bool {
	return target == ErrSyncTransport
}

type Chunk struct {
	SyncID  string
	Index   int
	Count   int
	Payload []byte
}

// Split cuts payload into chunks of at most maxBytes. An empty payload still
// yields one chunk so the receiver learns the sync completed.
func Split(syncID string, payload []byte, maxBytes int) []Chunk {
	if maxBytes <= 0 {
		maxBytes = len(payload)
	}
	count := 1
	if len(payload) > maxBytes {
		count = (len(payload) + maxBytes - 1) / maxBytes
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxBytes
		end := start + maxBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{SyncID: syncID, Index: i, Count: count, Payload: payload[start:end]})
	}
	return chunks
}

type buffer struct {
	mu       sync.Mutex
	syncID   string
	parts    [][]byte
	received int
	done     atomic.Bool
}

// Assembler buffers incoming chunk sequences. A sequence that is not complete
// within the timeout, counted from its first chunk, is dropped and reported
// through onExpire.
type Assembler struct {
	buffers   *cache.Cache
	maxChunks int
}

func NewAssembler(timeout time.Duration, maxChunks int, onExpire func(key string, err *SyncTransportError)) *Assembler {
	cleanup := timeout / 2
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	c := cache.New(timeout, cleanup)
	c.OnEvicted(func(key string, v interface{}) {
		b := v.(*buffer)
		if b.done.Load() {
			return
		}
		b.mu.Lock()
		err := &SyncTransportError{SyncID: b.syncID, Received: b.received, Count: len(b.parts)}
		b.mu.Unlock()
		if onExpire != nil {
			onExpire(key, err)
		}
	})
	return &Assembler{buffers: c, maxChunks: maxChunks}
}

func bufferKey(owner, syncID string) string {
	return owner + ":" + syncID
}

// Add stores c for owner. It returns the reassembled payload and true once
// every chunk of the sequence has arrived. Repeated chunks are ignored.
func (a *Assembler) Add(owner string, c Chunk) ([]byte, bool, error) {
	if c.Count <= 0 || c.Index < 0 || c.Index >= c.Count {
		return nil, false, fmt.Errorf("%w: index %d of %d", ErrInvalidChunk, c.Index, c.Count)
	}
	if a.maxChunks > 0 && c.Count > a.maxChunks {
		return nil, false, fmt.Errorf("%w: %d chunks exceeds limit %d", ErrInvalidChunk, c.Count, a.maxChunks)
	}

	key := bufferKey(owner, c.SyncID)
	var b *buffer
	if v, ok := a.buffers.Get(key); ok {
		b = v.(*buffer)
	} else {
		// Evicts an expired buffer still waiting for the janitor, which reports it.
		a.buffers.Delete(key)
		b = &buffer{syncID: c.SyncID, parts: make([][]byte, c.Count)}
		a.buffers.SetDefault(key, b)
	}

	b.mu.Lock()
	if len(b.parts) != c.Count {
		b.mu.Unlock()
		return nil, false, fmt.Errorf("%w: count changed from %d to %d", ErrInvalidChunk, len(b.parts), c.Count)
	}
	if b.parts[c.Index] == nil {
		b.parts[c.Index] = append([]byte{}, c.Payload...)
		b.received++
	}
	complete := b.received == len(b.parts)
	var payload []byte
	if complete {
		for _, p := range b.parts {
			payload = append(payload, p...)
		}
	}
	b.mu.Unlock()

	if !complete {
		return nil, false, nil
	}
	b.done.Store(true)
	a.buffers.Delete(key)
	if payload == nil {
		payload = []byte{}
	}
	return payload, true, nil
}

// Discard drops every partial buffer of owner without reporting it.
func (a *Assembler) Discard(owner string) {
	prefix := owner + ":"
	for key, item := range a.buffers.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		item.Object.(*buffer).done.Store(true)
		a.buffers.Delete(key)
	}
}

// Pending reports how many sequences are buffered.
func (a *Assembler) Pending() int {
	return a.buffers.ItemCount()
}
