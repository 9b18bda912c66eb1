package shareddoc

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

var created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// concurrentOps simulates two sites editing without seeing each other, then a
// third site acting on the merged result.
func concurrentOps(t *testing.T) []Op {
	t.Helper()
	x := NewReplica("site-x")
	y := NewReplica("site-y")

	var ops []Op
	ops = append(ops, x.AddHighlight(Highlight{ID: "h1", DocumentID: "doc", Start: 0, End: 5, TagID: strPtr("claim"), AuthorID: "u1", CreatedAt: created})...)
	ops = append(ops, y.AddHighlight(Highlight{ID: "h2", DocumentID: "doc", Start: 6, End: 11, AuthorID: "u2", CreatedAt: created})...)
	ops = append(ops, x.AddComment(Comment{ID: "c1", HighlightID: "h1", AuthorID: "u1", Body: "why?", CreatedAt: created})...)
	ops = append(ops, y.AddHighlight(Highlight{ID: "h3", DocumentID: "doc", Start: 2, End: 4, AuthorID: "u2", CreatedAt: created})...)
	ops = append(ops, y.AddComment(Comment{ID: "c3", HighlightID: "h3", AuthorID: "u2", Body: "gone soon", CreatedAt: created})...)
	ops = append(ops, y.RemoveHighlight("h3")...)

	d, err := x.InsertDraft(0, "abc")
	require.NoError(t, err)
	ops = append(ops, d...)
	d, err = y.InsertDraft(0, "xyz")
	require.NoError(t, err)
	ops = append(ops, d...)

	z := NewReplica("site-z")
	z.Apply(Delta(ops))
	ops = append(ops, z.SetTag("h2", strPtr("evidence"))...)
	ops = append(ops, z.SetTag("h1", nil)...)
	d, err = z.DeleteDraft(1, 2)
	require.NoError(t, err)
	ops = append(ops, d...)
	d, err = z.InsertDraft(3, "!")
	require.NoError(t, err)
	ops = append(ops, d...)
	return ops
}

func TestConvergence(t *testing.T) {
	ops := concurrentOps(t)

	reference := NewReplica("ref")
	reference.Apply(Delta(ops))
	want := reference.Snapshot()

	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		shuffled := append([]Op(nil), ops...)
		// Duplicate a few ops to check idempotence.
		for i := 0; i < 5; i++ {
			shuffled = append(shuffled, ops[rng.Intn(len(ops))])
		}
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		r := NewReplica("other")
		for _, op := range shuffled {
			r.Apply(Delta{op})
		}
		assert.Equal(t, want, r.Snapshot(), "seed %d", seed)
		assert.Equal(t, reference.Draft(), r.Draft(), "seed %d", seed)
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	ops := concurrentOps(t)
	a := NewReplica("a")
	a.Apply(Delta(ops))

	b := NewReplica("b")
	require.NoError(t, b.Load(a.Snapshot()))

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.Equal(t, a.Highlights(), b.Highlights())
	assert.Equal(t, a.Comments(), b.Comments())
	assert.Equal(t, a.Draft(), b.Draft())
}

func TestConcurrentHighlightsBothSurvive(t *testing.T) {
	x := NewReplica("x")
	y := NewReplica("y")

	dx := x.AddHighlight(Highlight{ID: "H1", Start: 0, End: 3, CreatedAt: created})
	dy := y.AddHighlight(Highlight{ID: "H2", Start: 4, End: 8, CreatedAt: created})

	x.Apply(dy)
	y.Apply(dx)

	ids := func(r *Replica) []string {
		var out []string
		for _, h := range r.Highlights() {
			out = append(out, h.ID)
		}
		return out
	}
	assert.Equal(t, []string{"H1", "H2"}, ids(x))
	assert.Equal(t, []string{"H1", "H2"}, ids(y))
	assert.Equal(t, x.Snapshot(), y.Snapshot())
}

func TestDraftTieBreak(t *testing.T) {
	a := NewReplica("a")
	b := NewReplica("b")

	da, err := a.InsertDraft(0, "hello")
	require.NoError(t, err)
	db, err := b.InsertDraft(0, "world")
	require.NoError(t, err)

	a.Apply(db)
	b.Apply(da)

	// Same origin: the higher stamp goes first, and runs never interleave.
	assert.Equal(t, "worldhello", a.Draft())
	assert.Equal(t, "worldhello", b.Draft())
}

func TestDraftConcurrentEditsAtDifferentPositions(t *testing.T) {
	base := NewReplica("base")
	seed, err := base.InsertDraft(0, "The cat")
	require.NoError(t, err)

	a := NewReplica("a")
	b := NewReplica("b")
	a.Apply(seed)
	b.Apply(seed)

	da, err := a.InsertDraft(4, "big ")
	require.NoError(t, err)
	db, err := b.DeleteDraft(0, 4)
	require.NoError(t, err)

	a.Apply(db)
	b.Apply(da)

	assert.Equal(t, "big cat", a.Draft())
	assert.Equal(t, a.Draft(), b.Draft())
}

func TestDraftPosition(t *testing.T) {
	r := NewReplica("r")
	_, err := r.InsertDraft(1, "x")
	assert.ErrorIs(t, err, ErrDraftPosition)

	_, err = r.InsertDraft(0, "ab")
	require.NoError(t, err)
	_, err = r.DeleteDraft(1, 2)
	assert.ErrorIs(t, err, ErrDraftPosition)
}

func TestDeleteBeforeInsert(t *testing.T) {
	src := NewReplica("src")
	ins := src.AddHighlight(Highlight{ID: "h", Start: 0, End: 1, CreatedAt: created})
	com := src.AddComment(Comment{ID: "c", HighlightID: "h", Body: "note", CreatedAt: created})
	del := src.RemoveHighlight("h")

	r := NewReplica("r")
	assert.Len(t, r.Apply(del), 1)
	assert.Empty(t, r.Apply(ins))
	r.Apply(com)

	assert.Empty(t, r.Highlights())
	assert.Empty(t, r.Comments())
	assert.Equal(t, src.Snapshot(), r.Snapshot())
}

func TestCommentHiddenUntilHighlightArrives(t *testing.T) {
	src := NewReplica("src")
	ins := src.AddHighlight(Highlight{ID: "h", Start: 0, End: 1, CreatedAt: created})
	com := src.AddComment(Comment{ID: "c", HighlightID: "h", Body: "note", CreatedAt: created})

	r := NewReplica("r")
	r.Apply(com)
	assert.Empty(t, r.Comments())

	r.Apply(ins)
	require.Len(t, r.Comments(), 1)
	assert.Equal(t, "note", r.Comments()[0].Body)
}

func TestTagLastWriterWins(t *testing.T) {
	base := NewReplica("base")
	ins := base.AddHighlight(Highlight{ID: "h", Start: 0, End: 2, TagID: strPtr("t0"), CreatedAt: created})

	a := NewReplica("a")
	b := NewReplica("b")
	a.Apply(ins)
	b.Apply(ins)

	ta := a.SetTag("h", strPtr("t-a"))
	tb := b.SetTag("h", strPtr("t-b"))
	a.Apply(tb)
	b.Apply(ta)

	// Equal counters, so the higher site id wins.
	require.Len(t, a.Highlights(), 1)
	assert.Equal(t, "t-b", *a.Highlights()[0].TagID)
	assert.Equal(t, "t-b", *b.Highlights()[0].TagID)
}

func TestApplyReturnsOnlyEffectiveOps(t *testing.T) {
	src := NewReplica("src")
	d := src.AddHighlight(Highlight{ID: "h", Start: 0, End: 1, CreatedAt: created})

	r := NewReplica("r")
	assert.Len(t, r.Apply(d), 1)
	assert.Empty(t, r.Apply(d))
	assert.Equal(t, uint64(1), r.Version())
}
