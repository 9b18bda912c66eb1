package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"annotation-collab-be/internal/dto"
	"annotation-collab-be/internal/persistence"
	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/repository/memory"
	internalWS "annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/events"
	"annotation-collab-be/pkg/export"
	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkup = "<p>Hello <b>world</b></p>"

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event{}, r.events...)
}

type fixture struct {
	repo     *memory.DocumentRepository
	store    *persistence.MemoryStore
	loader   *DocumentLoader
	hub      *internalWS.Hub
	recorder *eventRecorder
	docs     IDocumentService
	exports  IExportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNopLogger()
	f := &fixture{
		repo:     memory.NewDocumentRepository(),
		store:    persistence.NewMemoryStore(),
		recorder: &eventRecorder{},
	}
	f.loader = NewDocumentLoader(f.repo, f.store, nil, "server")
	f.hub = internalWS.NewHub(f.loader, nil, nil, nil, internalWS.Options{
		ReconnectGrace: time.Second,
		PresenceTTL:    time.Second,
		ChunkTimeout:   time.Second,
		MaxChunkBytes:  1024,
		MaxChunks:      16,
		MaxBacklog:     16,
		MaxMessageSize: 4096,
	}, log)
	t.Cleanup(f.hub.Close)

	f.docs = NewDocumentService(f.repo, f.loader, f.hub, f.recorder, log)
	f.exports = NewExportService(f.repo, f.loader, f.hub, export.Registry{"html": export.NewHTMLFormatter()}, log)
	return f
}

func (f *fixture) importSample(t *testing.T) *dto.DocumentResponse {
	t.Helper()
	res, err := f.docs.Import(context.Background(), "user-1", &dto.ImportDocumentRequest{
		Title:   "  Sample  ",
		Content: sampleMarkup,
	})
	require.NoError(t, err)
	return res
}

// annotate stores a snapshot with one tagged and commented highlight.
func (f *fixture) annotate(t *testing.T, id uuid.UUID, start, end int) {
	t.Helper()
	tag := "tag-1"
	r := shareddoc.NewReplica("client")
	r.AddHighlight(shareddoc.Highlight{ID: "h1", DocumentID: id.String(), Start: start, End: end, TagID: &tag, AuthorID: "user-1"})
	r.AddComment(shareddoc.Comment{ID: "c1", HighlightID: "h1", AuthorID: "user-1", Body: "nice <word>"})
	require.NoError(t, f.store.Save(context.Background(), id.String(), r.Snapshot()))
}

func TestImportComputesSequenceOnce(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)

	assert.Equal(t, "Sample", res.Title)
	assert.Equal(t, 11, res.CharLength)
	assert.Equal(t, offset.Flatten(sampleMarkup).Checksum(), res.Checksum)

	show, err := f.docs.Show(context.Background(), res.Id)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", show.FlatText)
	assert.Equal(t, sampleMarkup, show.Content)

	published := f.recorder.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.DocumentImported, published[0].EventType())
	assert.Equal(t, res.Id.String(), published[0].Payload()["document_id"])
}

func TestShowUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.docs.Show(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestLocate(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)

	got, err := f.docs.Locate(context.Background(), res.Id, 6)
	require.NoError(t, err)
	assert.Equal(t, "w", got.Position.Rune)
	assert.Equal(t, "b", got.Position.Element)

	_, err = f.docs.Locate(context.Background(), res.Id, 12)
	assert.ErrorIs(t, err, offset.ErrOffsetOutOfRange)
}

func TestStateReadsSnapshotWhenInactive(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)
	f.annotate(t, res.Id, 6, 11)

	state, err := f.docs.State(context.Background(), res.Id)
	require.NoError(t, err)
	assert.Equal(t, string(internalWS.RoomUnloaded), state.RoomState)
	require.Len(t, state.Highlights, 1)
	assert.Equal(t, "h1", state.Highlights[0].ID)
	require.Len(t, state.Highlights[0].Comments, 1)

	_, err = f.hub.Room(context.Background(), res.Id.String())
	require.NoError(t, err)
	state, err = f.docs.State(context.Background(), res.Id)
	require.NoError(t, err)
	assert.Equal(t, string(internalWS.RoomActive), state.RoomState)
	assert.Len(t, state.Highlights, 1)
}

func TestParity(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)

	tests := []struct {
		name  string
		req   dto.ParityRequest
		match bool
	}{
		{name: "same sequence", req: dto.ParityRequest{CharLength: 11, Checksum: strings.ToUpper(res.Checksum)}, match: true},
		{name: "different length", req: dto.ParityRequest{CharLength: 12, Checksum: res.Checksum}},
		{name: "different checksum", req: dto.ParityRequest{CharLength: 11, Checksum: strings.Repeat("0", 64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.docs.Parity(context.Background(), res.Id, &tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.match, got.Match)
			assert.Equal(t, 11, got.CharLength)
		})
	}
}

func TestListByCreator(t *testing.T) {
	f := newFixture(t)
	f.importSample(t)
	f.importSample(t)
	_, err := f.docs.Import(context.Background(), "user-2", &dto.ImportDocumentRequest{Title: "Other", Content: "<p>x</p>"})
	require.NoError(t, err)

	got, err := f.docs.List(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.docs.List(context.Background(), "user-1", 1, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
