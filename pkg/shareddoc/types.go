// Package shareddoc is the replicated annotation state of one document:
// highlights, comments, tag assignments and the response draft. Every field
// merges without coordination, so replicas that see the same set of ops in any
// order (duplicates included) end up with byte-identical snapshots.
package shareddoc

import (
	"fmt"
	"time"
)

// Stamp is a Lamport timestamp qualified by the site that issued it.
// Stamps are totally ordered by counter, then site.
type Stamp struct {
	Counter uint64 `json:"counter"`
	Site    string `json:"site"`
}

func (s Stamp) Less(o Stamp) bool {
	if s.Counter != o.Counter {
		return s.Counter < o.Counter
	}
	return s.Site < o.Site
}

func (s Stamp) IsZero() bool {
	return s.Counter == 0 && s.Site == ""
}

func (s Stamp) String() string {
	return fmt.Sprintf("%d@%s", s.Counter, s.Site)
}

// Highlight is a tagged span over the flattened character sequence, [Start, End).
type Highlight struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Start      int       `json:"start_offset"`
	End        int       `json:"end_offset"`
	TagID      *string   `json:"tag_id"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comment belongs to exactly one highlight and disappears with it.
type Comment struct {
	ID          string    `json:"id"`
	HighlightID string    `json:"highlight_id"`
	AuthorID    string    `json:"author_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// TagAssignment is the current tag of a highlight.
type TagAssignment struct {
	HighlightID string  `json:"highlight_id"`
	TagID       *string `json:"tag_id"`
}

// Op is one replicated mutation.
type Op interface {
	isOp()
}

type HighlightInsert struct {
	Highlight Highlight
	Stamp     Stamp
}

type HighlightDelete struct {
	ID string
}

type CommentInsert struct {
	Comment Comment
	Stamp   Stamp
}

type CommentDelete struct {
	ID string
}

// TagSet assigns (or clears, with a nil TagID) the tag of a highlight.
type TagSet struct {
	HighlightID string
	TagID       *string
	Stamp       Stamp
}

// DraftInsert places Value immediately after Origin in the draft sequence.
// A zero Origin is the head of the sequence.
type DraftInsert struct {
	ID     Stamp
	Origin Stamp
	Value  rune
}

type DraftDelete struct {
	ID Stamp
}

func (HighlightInsert) isOp() {}
func (HighlightDelete) isOp() {}
func (CommentInsert) isOp()   {}
func (CommentDelete) isOp()   {}
func (TagSet) isOp()          {}
func (DraftInsert) isOp()     {}
func (DraftDelete) isOp()     {}

// Delta is an ordered batch of ops produced by one mutation.
type Delta []Op

func cloneTag(tag *string) *string {
	if tag == nil {
		return nil
	}
	v := *tag
	return &v
}

func sameTag(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
