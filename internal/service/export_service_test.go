package service

import (
	"context"
	"testing"

	"annotation-collab-be/pkg/export"
	"annotation-collab-be/pkg/projection"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSpans(t *testing.T) {
	tag := "tag-1"
	highlights := []shareddoc.HighlightView{
		{Highlight: shareddoc.Highlight{ID: "plain", Start: 0, End: 5}, Comments: []shareddoc.Comment{}},
		{
			Highlight: shareddoc.Highlight{ID: "noted", Start: 6, End: 11, TagID: &tag},
			Comments:  []shareddoc.Comment{{ID: "c", AuthorID: "ana", Body: "good"}},
		},
	}

	spans, notesFor := BuildSpans(highlights)
	require.Len(t, spans, 2)
	assert.False(t, spans[0].Annotated)
	assert.True(t, spans[1].Annotated)

	notes := notesFor(projection.Number(spans))
	require.Len(t, notes, 1)
	assert.Equal(t, 2, notes[0].Number)
	assert.Equal(t, "tag-1", notes[0].Tag)
	assert.Equal(t, []export.Comment{{Author: "ana", Body: "good"}}, notes[0].Comments)
}

func TestExportHTML(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)
	f.annotate(t, res.Id, 6, 11)

	artifact, filename, err := f.exports.Export(context.Background(), res.Id, "html")
	require.NoError(t, err)
	assert.Equal(t, res.Id.String()+".html", filename)

	out := string(artifact.Data)
	assert.Contains(t, out, `<span class="hl-start" data-hl="1"></span>`)
	assert.Contains(t, out, `id="ref-1"`)
	assert.Contains(t, out, "nice &lt;word&gt;")
	assert.NotContains(t, out, "HLSTART")
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t)
	res := f.importSample(t)

	_, _, err := f.exports.Export(context.Background(), res.Id, "pdf")
	assert.ErrorIs(t, err, export.ErrUnknownFormat)

	_, _, err = f.exports.Export(context.Background(), uuid.New(), "html")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
