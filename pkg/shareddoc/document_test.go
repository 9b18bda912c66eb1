package shareddoc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTags map[string]bool

func (s stubTags) ValidTag(_ context.Context, tagID string) (bool, error) {
	return s[tagID], nil
}

func TestCodecRoundTrip(t *testing.T) {
	at := time.Unix(0, 1767225600123456789).UTC()
	d := Delta{
		HighlightInsert{Highlight: Highlight{ID: "h", DocumentID: "doc", Start: 3, End: 9, TagID: strPtr(""), AuthorID: "u", CreatedAt: at}, Stamp: Stamp{Counter: 4, Site: "s"}},
		HighlightDelete{ID: "h"},
		CommentInsert{Comment: Comment{ID: "c", HighlightID: "h", AuthorID: "u", Body: "ünïcode body", CreatedAt: at}, Stamp: Stamp{Counter: 5, Site: "s"}},
		CommentDelete{ID: "c"},
		TagSet{HighlightID: "h", TagID: nil, Stamp: Stamp{Counter: 6, Site: "s"}},
		DraftInsert{ID: Stamp{Counter: 7, Site: "s"}, Value: '語'},
		DraftInsert{ID: Stamp{Counter: 8, Site: "s"}, Origin: Stamp{Counter: 7, Site: "s"}, Value: 'x'},
		DraftDelete{ID: Stamp{Counter: 7, Site: "s"}},
	}

	got, err := DecodeDelta(EncodeDelta(d))
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDecodeDeltaRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated tag", data: []byte{0xff}},
		{name: "truncated bytes", data: []byte{0x0a, 0x05, 0x08}},
		{name: "unknown kind", data: []byte{0x0a, 0x02, 0x08, 0x63}},
		{name: "highlight without id", data: []byte{0x0a, 0x02, 0x08, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDelta(tt.data)
			assert.ErrorIs(t, err, ErrMalformedDelta)
		})
	}
}

func TestDocumentApplyRemote(t *testing.T) {
	ctx := context.Background()
	client := NewReplica("client")

	t.Run("accepts valid highlight", func(t *testing.T) {
		doc := NewDocument("doc", 11, "server", nil)
		d := client.AddHighlight(Highlight{ID: "ok", DocumentID: "doc", Start: 6, End: 11, CreatedAt: created})

		effective, payload, err := doc.ApplyRemote(ctx, EncodeDelta(d))
		require.NoError(t, err)
		assert.Len(t, effective, 1)
		assert.NotEmpty(t, payload)

		again, payload, err := doc.ApplyRemote(ctx, EncodeDelta(d))
		require.NoError(t, err)
		assert.Empty(t, again)
		assert.Nil(t, payload)
	})

	bad := []struct {
		name   string
		h      Highlight
		reason string
	}{
		{name: "past the end", h: Highlight{ID: "a", Start: 6, End: 12}, reason: ReasonOutOfBounds},
		{name: "negative start", h: Highlight{ID: "b", Start: -1, End: 2}, reason: ReasonOutOfBounds},
		{name: "inverted", h: Highlight{ID: "c", Start: 5, End: 5}, reason: ReasonInverted},
		{name: "other document", h: Highlight{ID: "d", DocumentID: "other", Start: 0, End: 1}, reason: ReasonDocumentMismatch},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument("doc", 11, "server", nil)
			// A valid op in the same delta must not be merged either.
			d := append(client.AddHighlight(Highlight{ID: "fine-" + tt.h.ID, Start: 0, End: 1}), client.AddHighlight(tt.h)...)

			_, _, err := doc.ApplyRemote(ctx, EncodeDelta(d))
			require.ErrorIs(t, err, ErrAddressing)

			var addrErr *AddressingError
			require.True(t, errors.As(err, &addrErr))
			assert.Equal(t, tt.reason, addrErr.Reason)
			assert.Equal(t, uint64(0), doc.Version())
			assert.Empty(t, doc.State().Highlights)
		})
	}
}

func TestDocumentRejectsCorruptDelta(t *testing.T) {
	doc := NewDocument("doc", 5, "server", nil)
	_, _, err := doc.ApplyRemote(context.Background(), []byte{0x0a, 0x7f})
	assert.ErrorIs(t, err, ErrMergeApplication)
	assert.ErrorIs(t, err, ErrMalformedDelta)
}

func TestDocumentUnknownTag(t *testing.T) {
	doc := NewDocument("doc", 5, "server", stubTags{"known": true})
	client := NewReplica("client")

	_, _, err := doc.ApplyRemote(context.Background(), EncodeDelta(client.AddHighlight(Highlight{ID: "h", Start: 0, End: 2, TagID: strPtr("mystery")})))
	var addrErr *AddressingError
	require.ErrorAs(t, err, &addrErr)
	assert.Equal(t, ReasonUnknownTag, addrErr.Reason)

	_, _, err = doc.ApplyRemote(context.Background(), EncodeDelta(client.AddHighlight(Highlight{ID: "h2", Start: 0, End: 2, TagID: strPtr("known")})))
	assert.NoError(t, err)
}

func TestDocumentStateAndLoad(t *testing.T) {
	ctx := context.Background()
	client := NewReplica("client")
	doc := NewDocument("doc", 20, "server", nil)

	d := client.AddHighlight(Highlight{ID: "h", DocumentID: "doc", Start: 1, End: 4, TagID: strPtr("t"), CreatedAt: created})
	d = append(d, client.AddComment(Comment{ID: "c", HighlightID: "h", Body: "first", CreatedAt: created})...)
	draft, err := client.InsertDraft(0, "answer")
	require.NoError(t, err)
	d = append(d, draft...)

	_, _, err = doc.ApplyRemote(ctx, EncodeDelta(d))
	require.NoError(t, err)

	state := doc.State()
	require.Len(t, state.Highlights, 1)
	assert.Equal(t, "t", *state.Highlights[0].TagID)
	require.Len(t, state.Highlights[0].Comments, 1)
	assert.Equal(t, "answer", state.Draft)

	restored := NewDocument("doc", 20, "server-2", nil)
	require.NoError(t, restored.Load(doc.Snapshot()))
	assert.Equal(t, doc.Snapshot(), restored.Snapshot())
	assert.Equal(t, "answer", restored.State().Draft)
}
