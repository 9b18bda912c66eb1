package shareddoc

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type highlightRecord struct {
	h     Highlight
	stamp Stamp
}

type commentRecord struct {
	c     Comment
	stamp Stamp
}

type tagRegister struct {
	tag   *string
	stamp Stamp
}

// Replica is one site's copy of the shared state. It is not safe for
// concurrent use; Document serializes access on the server.
type Replica struct {
	site    string
	clock   uint64
	version uint64

	highlights     map[string]highlightRecord
	highlightTombs map[string]struct{}
	comments       map[string]commentRecord
	commentTombs   map[string]struct{}
	tags           map[string]tagRegister
	draft          *draft
}

func NewReplica(site string) *Replica {
	return &Replica{
		site:           site,
		highlights:     make(map[string]highlightRecord),
		highlightTombs: make(map[string]struct{}),
		comments:       make(map[string]commentRecord),
		commentTombs:   make(map[string]struct{}),
		tags:           make(map[string]tagRegister),
		draft:          newDraft(),
	}
}

func (r *Replica) Site() string {
	return r.site
}

// Version counts the ops that changed this replica.
func (r *Replica) Version() uint64 {
	return r.version
}

func (r *Replica) observe(s Stamp) {
	if s.Counter > r.clock {
		r.clock = s.Counter
	}
}

func (r *Replica) tick() Stamp {
	r.clock++
	return Stamp{Counter: r.clock, Site: r.site}
}

func (r *Replica) local(ops ...Op) Delta {
	d := Delta(ops)
	r.Apply(d)
	return d
}

// AddHighlight inserts h, assigning an id when it has none.
func (r *Replica) AddHighlight(h Highlight) Delta {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	h.TagID = cloneTag(h.TagID)
	return r.local(HighlightInsert{Highlight: h, Stamp: r.tick()})
}

func (r *Replica) RemoveHighlight(id string) Delta {
	return r.local(HighlightDelete{ID: id})
}

func (r *Replica) AddComment(c Comment) Delta {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return r.local(CommentInsert{Comment: c, Stamp: r.tick()})
}

func (r *Replica) RemoveComment(id string) Delta {
	return r.local(CommentDelete{ID: id})
}

func (r *Replica) SetTag(highlightID string, tagID *string) Delta {
	return r.local(TagSet{HighlightID: highlightID, TagID: cloneTag(tagID), Stamp: r.tick()})
}

// InsertDraft inserts text before the visible character at pos.
func (r *Replica) InsertDraft(pos int, text string) (Delta, error) {
	visible := r.draft.visible()
	if pos < 0 || pos > len(visible) {
		return nil, ErrDraftPosition
	}
	var origin Stamp
	if pos > 0 {
		origin = visible[pos-1].id
	}

	var ops []Op
	for _, ch := range text {
		id := r.tick()
		ops = append(ops, DraftInsert{ID: id, Origin: origin, Value: ch})
		origin = id
	}
	return r.local(ops...), nil
}

// DeleteDraft removes n visible characters starting at pos.
func (r *Replica) DeleteDraft(pos, n int) (Delta, error) {
	visible := r.draft.visible()
	if pos < 0 || n < 0 || pos+n > len(visible) {
		return nil, ErrDraftPosition
	}
	ops := make([]Op, 0, n)
	for _, e := range visible[pos : pos+n] {
		ops = append(ops, DraftDelete{ID: e.id})
	}
	return r.local(ops...), nil
}

// Apply merges d and returns the ops that changed state.
func (r *Replica) Apply(d Delta) Delta {
	var effective Delta
	for _, op := range d {
		if r.apply(op) {
			r.version++
			effective = append(effective, op)
		}
	}
	return effective
}

func (r *Replica) apply(op Op) bool {
	switch o := op.(type) {
	case HighlightInsert:
		r.observe(o.Stamp)
		id := o.Highlight.ID
		if _, dead := r.highlightTombs[id]; dead {
			return false
		}
		if cur, ok := r.highlights[id]; ok && !cur.stamp.Less(o.Stamp) {
			return false
		}
		h := o.Highlight
		h.TagID = cloneTag(h.TagID)
		r.highlights[id] = highlightRecord{h: h, stamp: o.Stamp}
		if reg, ok := r.tags[id]; !ok || reg.stamp.Less(o.Stamp) {
			r.tags[id] = tagRegister{tag: cloneTag(h.TagID), stamp: o.Stamp}
		}
		return true

	case HighlightDelete:
		if _, dead := r.highlightTombs[o.ID]; dead {
			return false
		}
		r.highlightTombs[o.ID] = struct{}{}
		delete(r.highlights, o.ID)
		delete(r.tags, o.ID)
		return true

	case CommentInsert:
		r.observe(o.Stamp)
		id := o.Comment.ID
		if _, dead := r.commentTombs[id]; dead {
			return false
		}
		if cur, ok := r.comments[id]; ok && !cur.stamp.Less(o.Stamp) {
			return false
		}
		r.comments[id] = commentRecord{c: o.Comment, stamp: o.Stamp}
		return true

	case CommentDelete:
		if _, dead := r.commentTombs[o.ID]; dead {
			return false
		}
		r.commentTombs[o.ID] = struct{}{}
		delete(r.comments, o.ID)
		return true

	case TagSet:
		r.observe(o.Stamp)
		if _, dead := r.highlightTombs[o.HighlightID]; dead {
			return false
		}
		if reg, ok := r.tags[o.HighlightID]; ok && !reg.stamp.Less(o.Stamp) {
			return false
		}
		r.tags[o.HighlightID] = tagRegister{tag: cloneTag(o.TagID), stamp: o.Stamp}
		return true

	case DraftInsert:
		r.observe(o.ID)
		return r.draft.insert(o)

	case DraftDelete:
		return r.draft.delete(o.ID)
	}
	return false
}

func (r *Replica) highlightLive(id string) bool {
	_, ok := r.highlights[id]
	return ok
}

// Highlights returns the live highlights ordered by (start, end, id), each
// carrying its current tag.
func (r *Replica) Highlights() []Highlight {
	out := make([]Highlight, 0, len(r.highlights))
	for id, rec := range r.highlights {
		h := rec.h
		h.TagID = cloneTag(r.tags[id].tag)
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
	return out
}

// Comments returns the visible comments ordered by creation time, then id.
// Comments whose highlight is deleted or not yet known are hidden.
func (r *Replica) Comments() []Comment {
	out := make([]Comment, 0, len(r.comments))
	for _, rec := range r.comments {
		if r.highlightLive(rec.c.HighlightID) {
			out = append(out, rec.c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Replica) Tags() []TagAssignment {
	out := make([]TagAssignment, 0, len(r.highlights))
	for _, h := range r.Highlights() {
		out = append(out, TagAssignment{HighlightID: h.ID, TagID: h.TagID})
	}
	return out
}

func (r *Replica) Draft() string {
	return r.draft.String()
}

// State returns the canonical op list that rebuilds this replica.
func (r *Replica) State() Delta {
	var out Delta

	for _, id := range sortedKeys(r.highlights) {
		rec := r.highlights[id]
		out = append(out, HighlightInsert{Highlight: rec.h, Stamp: rec.stamp})
	}
	for _, id := range sortedKeys(r.highlightTombs) {
		out = append(out, HighlightDelete{ID: id})
	}
	for _, id := range sortedKeys(r.comments) {
		rec := r.comments[id]
		if _, dead := r.highlightTombs[rec.c.HighlightID]; dead {
			continue
		}
		out = append(out, CommentInsert{Comment: rec.c, Stamp: rec.stamp})
	}
	for _, id := range sortedKeys(r.commentTombs) {
		out = append(out, CommentDelete{ID: id})
	}
	for _, id := range sortedKeys(r.tags) {
		reg := r.tags[id]
		if rec, ok := r.highlights[id]; ok && rec.stamp == reg.stamp {
			continue
		}
		out = append(out, TagSet{HighlightID: id, TagID: reg.tag, Stamp: reg.stamp})
	}
	out = append(out, r.draft.ops()...)
	return out
}

// Snapshot encodes State. Replicas holding the same ops produce identical bytes.
func (r *Replica) Snapshot() []byte {
	return EncodeDelta(r.State())
}

// Load merges a snapshot into the replica.
func (r *Replica) Load(snapshot []byte) error {
	d, err := DecodeDelta(snapshot)
	if err != nil {
		return err
	}
	r.Apply(d)
	return nil
}

// MergeSnapshots returns the snapshot of a replica holding the ops of both
// snapshots.
func MergeSnapshots(a, b []byte) ([]byte, error) {
	r := NewReplica("")
	if err := r.Load(a); err != nil {
		return nil, err
	}
	if err := r.Load(b); err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
