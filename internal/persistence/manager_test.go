package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// versionSource serves "v<n>" where n is bumped on every mutation.
type versionSource struct {
	mu       sync.Mutex
	versions map[string]int
}

func newVersionSource() *versionSource {
	return &versionSource{versions: make(map[string]int)}
}

func (s *versionSource) bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id]++
}

func (s *versionSource) Snapshot(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, false
	}
	return []byte(fmt.Sprintf("v%d", v)), true
}

type recordingStore struct {
	mu     sync.Mutex
	writes map[string][][]byte
	fail   int
	gate   chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{writes: make(map[string][][]byte)}
}

func (s *recordingStore) Save(ctx context.Context, id string, data []byte) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("store unavailable")
	}
	s.writes[id] = append(s.writes[id], append([]byte{}, data...))
	return nil
}

func (s *recordingStore) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *recordingStore) saved(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, w := range s.writes[id] {
		out = append(out, string(w))
	}
	return out
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *alertRecorder) Alert(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *alertRecorder) all() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Alert{}, a.alerts...)
}

func testManager(source SnapshotSource, store SnapshotStore, alerter Alerter, debounce time.Duration) *Manager {
	return NewManager(source, store, alerter, Options{
		Debounce:       debounce,
		WriteTimeout:   time.Second,
		AlertThreshold: 2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}, logger.NewNopLogger())
}

func TestManagerCoalescesBurst(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	m := testManager(source, store, nil, 30*time.Millisecond)

	for i := 0; i < 5; i++ {
		source.bump("doc")
		m.MarkDirty("doc")
	}

	require.Eventually(t, func() bool { return len(store.saved("doc")) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"v5"}, store.saved("doc"))
	assert.False(t, m.Dirty("doc"))
}

func TestManagerDocumentsAreIndependent(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	m := testManager(source, store, nil, 10*time.Millisecond)

	source.bump("a")
	source.bump("b")
	m.MarkDirty("a")
	m.MarkDirty("b")

	require.Eventually(t, func() bool {
		return len(store.saved("a")) == 1 && len(store.saved("b")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerMutationDuringWrite(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	store.gate = make(chan struct{})
	m := testManager(source, store, nil, 10*time.Millisecond)

	source.bump("doc")
	m.MarkDirty("doc")
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.docs["doc"].inFlight
	}, time.Second, time.Millisecond)

	source.bump("doc")
	m.MarkDirty("doc")
	time.Sleep(30 * time.Millisecond)
	// The re-armed timer fired while the first write was still running.
	assert.Empty(t, store.saved("doc"))

	close(store.gate)
	require.Eventually(t, func() bool { return len(store.saved("doc")) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"v1", "v2"}, store.saved("doc"))
}

func TestManagerRetriesAndAlerts(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	store.fail = 3
	alerts := &alertRecorder{}
	m := testManager(source, store, alerts, 5*time.Millisecond)

	source.bump("doc")
	m.MarkDirty("doc")

	require.Eventually(t, func() bool { return len(store.saved("doc")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"v1"}, store.saved("doc"))

	require.Eventually(t, func() bool { return len(alerts.all()) == 2 }, time.Second, 5*time.Millisecond)
	got := alerts.all()
	assert.False(t, got[0].Recovered)
	assert.Equal(t, 2, got[0].Failures)
	assert.Equal(t, "store unavailable", got[0].LastError)
	assert.True(t, got[1].Recovered)
	assert.False(t, m.Dirty("doc"))
}

func TestManagerShutdownFlushesDirty(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	m := testManager(source, store, nil, time.Hour)

	source.bump("a")
	source.bump("b")
	m.MarkDirty("a")
	m.MarkDirty("b")

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"v1"}, store.saved("a"))
	assert.Equal(t, []string{"v1"}, store.saved("b"))
}

func TestManagerShutdownReportsFailures(t *testing.T) {
	source := newVersionSource()
	store := newRecordingStore()
	store.fail = 1
	m := testManager(source, store, nil, time.Hour)

	source.bump("doc")
	m.MarkDirty("doc")

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "doc", perr.DocumentID)
	assert.True(t, m.Dirty("doc"))
}

func TestManagerSkipsInactiveDocuments(t *testing.T) {
	var saves atomic.Int32
	store := storeFunc(func() { saves.Add(1) })
	m := testManager(newVersionSource(), store, nil, 5*time.Millisecond)

	m.MarkDirty("gone")
	require.Eventually(t, func() bool { return !m.Dirty("gone") }, time.Second, 5*time.Millisecond)
	assert.Zero(t, saves.Load())
}

type storeFunc func()

func (f storeFunc) Save(context.Context, string, []byte) error {
	f()
	return nil
}

func (f storeFunc) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}
