package shareddoc

import (
	"context"
	"fmt"
	"sync"
)

// TagValidator checks tag ids against the external taxonomy.
type TagValidator interface {
	ValidTag(ctx context.Context, tagID string) (bool, error)
}

// HighlightView is a live highlight with its current tag and visible comments.
type HighlightView struct {
	Highlight
	Comments []Comment `json:"comments"`
}

// State is a read-only view of a document's shared state.
type State struct {
	DocumentID string          `json:"document_id"`
	CharLength int             `json:"char_length"`
	Version    uint64          `json:"version"`
	Highlights []HighlightView `json:"highlights"`
	Draft      string          `json:"draft"`
}

// Document is the server-side replica of one document. Updates are applied one
// at a time and every highlight insertion is checked against the immutable
// character length before anything is merged.
type Document struct {
	mu      sync.Mutex
	id      string
	length  int
	replica *Replica
	tags    TagValidator
}

// NewDocument creates an empty replica. tags may be nil to accept any tag id.
func NewDocument(id string, length int, site string, tags TagValidator) *Document {
	return &Document{
		id:      id,
		length:  length,
		replica: NewReplica(site),
		tags:    tags,
	}
}

func (d *Document) ID() string {
	return d.id
}

func (d *Document) Length() int {
	return d.length
}

func (d *Document) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replica.Version()
}

// Load merges a durable snapshot.
func (d *Document) Load(snapshot []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.replica.Load(snapshot); err != nil {
		return &MergeApplicationError{Err: err}
	}
	return nil
}

func (d *Document) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replica.Snapshot()
}

// Prepared is a decoded delta that passed validation and is ready to merge.
type Prepared struct {
	delta Delta
}

// Prepare decodes and validates an encoded delta without touching replica
// state. Validation reads only the immutable length and the taxonomy, so it
// may run on any goroutine.
func (d *Document) Prepare(ctx context.Context, data []byte) (*Prepared, error) {
	delta, err := DecodeDelta(data)
	if err != nil {
		return nil, &MergeApplicationError{Err: err}
	}
	if err := d.validate(ctx, delta); err != nil {
		return nil, err
	}
	return &Prepared{delta: delta}, nil
}

// Commit merges a prepared delta. It returns the ops that changed state
// together with their encoding; both are empty when the delta only repeated
// known ops.
func (d *Document) Commit(p *Prepared) (Delta, []byte) {
	d.mu.Lock()
	effective := d.replica.Apply(p.delta)
	d.mu.Unlock()

	if len(effective) == 0 {
		return nil, nil
	}
	return effective, EncodeDelta(effective)
}

// ApplyRemote prepares and commits an encoded delta in one step. Nothing is
// merged when an error is returned.
func (d *Document) ApplyRemote(ctx context.Context, data []byte) (Delta, []byte, error) {
	p, err := d.Prepare(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	effective, payload := d.Commit(p)
	return effective, payload, nil
}

func (d *Document) validate(ctx context.Context, delta Delta) error {
	for _, op := range delta {
		switch o := op.(type) {
		case HighlightInsert:
			h := o.Highlight
			if h.DocumentID != "" && h.DocumentID != d.id {
				return d.reject(h, ReasonDocumentMismatch)
			}
			if h.Start >= h.End {
				return d.reject(h, ReasonInverted)
			}
			if h.Start < 0 || h.End > d.length {
				return d.reject(h, ReasonOutOfBounds)
			}
			if h.TagID != nil {
				if err := d.checkTag(ctx, h.ID, *h.TagID); err != nil {
					return err
				}
			}
		case TagSet:
			if o.TagID != nil {
				if err := d.checkTag(ctx, o.HighlightID, *o.TagID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Document) reject(h Highlight, reason string) error {
	return &AddressingError{HighlightID: h.ID, Start: h.Start, End: h.End, Length: d.length, Reason: reason}
}

func (d *Document) checkTag(ctx context.Context, highlightID, tagID string) error {
	if d.tags == nil {
		return nil
	}
	ok, err := d.tags.ValidTag(ctx, tagID)
	if err != nil {
		return fmt.Errorf("validate tag %s: %w", tagID, err)
	}
	if !ok {
		return &AddressingError{HighlightID: highlightID, Length: d.length, Reason: ReasonUnknownTag}
	}
	return nil
}

// State returns the current view of the document.
func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	byHighlight := make(map[string][]Comment)
	for _, c := range d.replica.Comments() {
		byHighlight[c.HighlightID] = append(byHighlight[c.HighlightID], c)
	}

	highlights := d.replica.Highlights()
	views := make([]HighlightView, 0, len(highlights))
	for _, h := range highlights {
		comments := byHighlight[h.ID]
		if comments == nil {
			comments = []Comment{}
		}
		views = append(views, HighlightView{Highlight: h, Comments: comments})
	}

	return State{
		DocumentID: d.id,
		CharLength: d.length,
		Version:    d.replica.Version(),
		Highlights: views,
		Draft:      d.replica.Draft(),
	}
}
