package shareddoc

import (
	"errors"
	"sort"
	"strings"
)

var ErrDraftPosition = errors.New("draft position out of range")

type draftElem struct {
	id      Stamp
	origin  Stamp
	value   rune
	deleted bool
}

// draft is a replicated growable array (RGA). Concurrent inserts after the
// same origin are ordered by descending stamp, so the insert with the higher
// counter (then the higher site id) ends up first.
type draft struct {
	elems   []*draftElem
	index   map[Stamp]*draftElem
	pending map[Stamp][]DraftInsert
	removed map[Stamp]struct{}
}

func newDraft() *draft {
	return &draft{
		index:   make(map[Stamp]*draftElem),
		pending: make(map[Stamp][]DraftInsert),
		removed: make(map[Stamp]struct{}),
	}
}

func (d *draft) position(id Stamp) int {
	for i, e := range d.elems {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (d *draft) isPending(id Stamp) bool {
	for _, ops := range d.pending {
		for _, op := range ops {
			if op.ID == id {
				return true
			}
		}
	}
	return false
}

func (d *draft) insert(op DraftInsert) bool {
	if _, ok := d.index[op.ID]; ok {
		return false
	}
	if !op.Origin.IsZero() {
		if _, ok := d.index[op.Origin]; !ok {
			if d.isPending(op.ID) {
				return false
			}
			d.pending[op.Origin] = append(d.pending[op.Origin], op)
			return true
		}
	}

	i := 0
	if !op.Origin.IsZero() {
		i = d.position(op.Origin) + 1
	}
	for i < len(d.elems) && op.ID.Less(d.elems[i].id) {
		i++
	}

	e := &draftElem{id: op.ID, origin: op.Origin, value: op.Value}
	if _, ok := d.removed[op.ID]; ok {
		e.deleted = true
		delete(d.removed, op.ID)
	}
	d.elems = append(d.elems, nil)
	copy(d.elems[i+1:], d.elems[i:])
	d.elems[i] = e
	d.index[op.ID] = e

	if waiting, ok := d.pending[op.ID]; ok {
		delete(d.pending, op.ID)
		for _, w := range waiting {
			d.insert(w)
		}
	}
	return true
}

func (d *draft) delete(id Stamp) bool {
	if e, ok := d.index[id]; ok {
		if e.deleted {
			return false
		}
		e.deleted = true
		return true
	}
	if _, ok := d.removed[id]; ok {
		return false
	}
	d.removed[id] = struct{}{}
	return true
}

func (d *draft) visible() []*draftElem {
	out := make([]*draftElem, 0, len(d.elems))
	for _, e := range d.elems {
		if !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

func (d *draft) String() string {
	var b strings.Builder
	for _, e := range d.elems {
		if !e.deleted {
			b.WriteRune(e.value)
		}
	}
	return b.String()
}

// ops returns the canonical op list describing the draft.
func (d *draft) ops() Delta {
	var out Delta
	for _, e := range d.elems {
		out = append(out, DraftInsert{ID: e.id, Origin: e.origin, Value: e.value})
	}
	for _, e := range d.elems {
		if e.deleted {
			out = append(out, DraftDelete{ID: e.id})
		}
	}

	removed := make([]Stamp, 0, len(d.removed))
	for id := range d.removed {
		removed = append(removed, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Less(removed[j]) })
	for _, id := range removed {
		out = append(out, DraftDelete{ID: id})
	}

	var waiting []DraftInsert
	for _, ops := range d.pending {
		waiting = append(waiting, ops...)
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].ID.Less(waiting[j].ID) })
	for _, op := range waiting {
		out = append(out, op)
	}
	return out
}
