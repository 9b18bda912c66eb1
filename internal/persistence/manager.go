// Package persistence writes document state to durable storage off the
// request path: mutations only mark a document dirty, and a per-document
// debounce timer turns a burst of marks into a single snapshot write.
package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SnapshotSource hands out the current encoded state of an active document.
type SnapshotSource interface {
	Snapshot(documentID string) ([]byte, bool)
}

type SourceFunc func(documentID string) ([]byte, bool)

func (f SourceFunc) Snapshot(documentID string) ([]byte, bool) {
	return f(documentID)
}

type Options struct {
	Debounce       time.Duration
	WriteTimeout   time.Duration
	AlertThreshold int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type docState struct {
	timer    *time.Timer
	dirty    bool
	inFlight bool
	failures int
	alerted  bool
	backoff  *backoff.ExponentialBackOff
}

type Manager struct {
	mu     sync.Mutex
	docs   map[string]*docState
	closed bool
	writes sync.WaitGroup

	source  SnapshotSource
	store   SnapshotStore
	alerter Alerter
	opts    Options
	logger  logger.ILogger
	tracer  trace.Tracer
}

func NewManager(source SnapshotSource, store SnapshotStore, alerter Alerter, opts Options, log logger.ILogger) *Manager {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Manager{
		docs:    make(map[string]*docState),
		source:  source,
		store:   store,
		alerter: alerter,
		opts:    opts,
		logger:  log,
		tracer:  otel.Tracer("annotation-collab-be/persistence"),
	}
}

func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialBackoff
	b.MaxInterval = m.opts.MaxBackoff
	return b
}

// MarkDirty records a mutation of documentID and (re)arms its debounce timer.
// While the document is failing, the retry schedule is left alone.
func (m *Manager) MarkDirty(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.docs[documentID]
	if !ok {
		st = &docState{backoff: m.newBackoff()}
		m.docs[documentID] = st
	}
	st.dirty = true
	if m.closed || st.failures > 0 {
		return
	}
	m.arm(documentID, st, m.opts.Debounce)
}

// arm must be called with m.mu held.
func (m *Manager) arm(documentID string, st *docState, delay time.Duration) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() { m.flush(documentID) })
}

// Dirty reports whether documentID has changes not yet written.
func (m *Manager) Dirty(documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.docs[documentID]
	return ok && (st.dirty || st.inFlight)
}

func (m *Manager) flush(documentID string) {
	m.mu.Lock()
	st, ok := m.docs[documentID]
	if !ok || m.closed || st.inFlight || !st.dirty {
		// An in-flight write re-arms on completion when still dirty.
		m.mu.Unlock()
		return
	}
	st.dirty = false
	st.inFlight = true
	st.timer = nil
	m.writes.Add(1)
	m.mu.Unlock()

	defer m.writes.Done()
	err := m.write(context.Background(), documentID)
	m.settle(documentID, st, err)
}

// write takes the current snapshot and stores it.
func (m *Manager) write(ctx context.Context, documentID string) error {
	data, ok := m.source.Snapshot(documentID)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "persistence.flush", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("snapshot.bytes", len(data)),
	))
	defer span.End()

	if err := m.store.Save(ctx, documentID, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot write failed")
		return err
	}
	return nil
}

// settle records the outcome of a write and schedules whatever comes next.
func (m *Manager) settle(documentID string, st *docState, err error) {
	var alert *Alert

	m.mu.Lock()
	st.inFlight = false
	if err != nil {
		st.dirty = true
		st.failures++
		perr := &PersistenceError{DocumentID: documentID, Attempt: st.failures, Err: err}
		delay := st.backoff.NextBackOff()
		if delay < 0 {
			delay = m.opts.MaxBackoff
		}
		m.logger.Error("Persistence", "Snapshot write failed", map[string]interface{}{
			"document_id": documentID,
			"attempt":     st.failures,
			"retry_in":    delay.String(),
			"error":       perr.Error(),
		})
		if !st.alerted && m.opts.AlertThreshold > 0 && st.failures >= m.opts.AlertThreshold {
			st.alerted = true
			alert = &Alert{DocumentID: documentID, Failures: st.failures, LastError: err.Error(), At: time.Now().UTC()}
		}
		if !m.closed {
			m.arm(documentID, st, delay)
		}
	} else {
		if st.alerted {
			alert = &Alert{DocumentID: documentID, Failures: st.failures, Recovered: true, At: time.Now().UTC()}
			m.logger.Info("Persistence", "Snapshot writes recovered", map[string]interface{}{
				"document_id": documentID,
				"failures":    st.failures,
			})
		}
		st.failures = 0
		st.alerted = false
		st.backoff.Reset()
		switch {
		case st.dirty && !m.closed:
			m.arm(documentID, st, m.opts.Debounce)
		case !st.dirty && st.timer == nil:
			delete(m.docs, documentID)
		}
	}
	m.mu.Unlock()

	if alert != nil && m.alerter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
		defer cancel()
		if aerr := m.alerter.Alert(ctx, *alert); aerr != nil {
			m.logger.Warn("Persistence", "Failed to deliver persistence alert", map[string]interface{}{
				"document_id": documentID,
				"error":       aerr.Error(),
			})
		}
	}
}

// Shutdown stops all timers, waits for writes in flight and then flushes
// every dirty document, in parallel. It returns the joined write errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, st := range m.docs {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	m.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		m.writes.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	var dirty []string
	for id, st := range m.docs {
		if st.dirty {
			dirty = append(dirty, id)
		}
	}
	m.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range dirty {
		g.Go(func() error {
			if err := m.write(gctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, &PersistenceError{DocumentID: id, Attempt: 1, Err: err})
				errMu.Unlock()
				return nil
			}
			m.mu.Lock()
			if st, ok := m.docs[id]; ok {
				st.dirty = false
			}
			m.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Persistence", "Shutdown flush complete", map[string]interface{}{
		"flushed": len(dirty) - len(errs),
		"failed":  len(errs),
	})
	return errors.Join(errs...)
}
