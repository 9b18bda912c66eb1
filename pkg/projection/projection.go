// Package projection splices annotation boundary tokens into document markup
// at the byte positions of their character offsets, for export.
package projection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/shareddoc"
)

var ErrExportPrecondition = errors.New("export precondition failed")

// ExportPrecondition is raised when highlights are exported against a
// document without any text content. No artifact is produced.
type ExportPrecondition struct {
	Spans int
}

func (e *ExportPrecondition) Error() string {
	return fmt.Sprintf("cannot export %d highlight(s) over empty document content", e.Spans)
}

func (e *ExportPrecondition) Is(target error) bool {
	return target == ErrExportPrecondition
}

// Span is a highlight range to project. Annotated spans also get an
// annotation token after their close token.
type Span struct {
	ID        string
	Start     int
	End       int
	Annotated bool
}

// NumberedSpan is a span with the id carried by its tokens.
type NumberedSpan struct {
	Span
	Number int
}

type Projection struct {
	Markup string
	Spans  []NumberedSpan
}

// Number orders spans by (start, end, id) and numbers them from 1.
func Number(spans []Span) []NumberedSpan {
	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
	out := make([]NumberedSpan, len(sorted))
	for i, s := range sorted {
		out[i] = NumberedSpan{Span: s, Number: i + 1}
	}
	return out
}

type charRanges struct {
	chars []offset.Char
}

func (c *charRanges) VisitChar(ch offset.Char) { c.chars = append(c.chars, ch) }
func (c *charRanges) VisitToken(offset.Token)  {}

const (
	groupClose = iota
	groupAnnotation
	groupOpen
)

type splice struct {
	pos   int
	sub   int // rune index inside a rewritten reference
	group int
	span  NumberedSpan
	text  string
}

// reference is a character reference that decodes to several runes.
type reference struct {
	start int
	end   int
	runes []rune
}

// splitReference reports whether character k shares its source reference
// with character k-1, and if so returns that reference and k's index in it.
func splitReference(chars []offset.Char, k int) (reference, int, bool) {
	same := func(i int) bool {
		return chars[i].Kind == offset.KindText && chars[i].Start >= 0 &&
			chars[i].Start == chars[k].Start && chars[i].End == chars[k].End
	}
	if k == 0 || !same(k-1) {
		return reference{}, 0, false
	}
	first := k - 1
	for first > 0 && same(first-1) {
		first--
	}
	ref := reference{start: chars[k].Start, end: chars[k].End}
	for i := first; i < len(chars) && same(i); i++ {
		ref.runes = append(ref.runes, chars[i].Rune)
	}
	return ref, k - first, true
}

// Project walks markup exactly like offset.Flatten and inserts the boundary
// tokens of every span. Tokens only land in text content or between tags,
// never inside a tag. A boundary inside a multi-rune character reference
// rewrites that reference as one numeric reference per rune.
func Project(markup string, spans []Span) (Projection, error) {
	walk := &charRanges{}
	length := offset.Walk(markup, walk)

	if len(spans) > 0 && length == 0 {
		return Projection{}, &ExportPrecondition{Spans: len(spans)}
	}
	for _, s := range spans {
		if s.Start < 0 || s.End > length || s.Start >= s.End {
			reason := shareddoc.ReasonOutOfBounds
			if s.Start >= s.End {
				reason = shareddoc.ReasonInverted
			}
			return Projection{}, &shareddoc.AddressingError{HighlightID: s.ID, Start: s.Start, End: s.End, Length: length, Reason: reason}
		}
	}

	numbered := Number(spans)
	rewrites := make(map[int]reference)
	// inside places a boundary that falls before character k of a split reference.
	inside := func(k int) (int, int, bool) {
		if k >= length {
			return 0, 0, false
		}
		ref, idx, ok := splitReference(walk.chars, k)
		if ok {
			rewrites[ref.start] = ref
		}
		return ref.start, idx, ok
	}

	splices := make([]splice, 0, len(numbered)*3)
	for _, s := range numbered {
		open, openSub, ok := inside(s.Start)
		if !ok {
			open = walk.chars[s.Start].Start
		}
		closeAt, closeSub, ok := inside(s.End)
		if !ok {
			closeAt = walk.chars[s.End-1].End
		}
		splices = append(splices,
			splice{pos: open, sub: openSub, group: groupOpen, span: s, text: OpenToken(s.Number)},
			splice{pos: closeAt, sub: closeSub, group: groupClose, span: s, text: CloseToken(s.Number)},
		)
		if s.Annotated {
			splices = append(splices, splice{pos: closeAt, sub: closeSub, group: groupAnnotation, span: s, text: AnnotationToken(s.Number)})
		}
	}
	sort.SliceStable(splices, func(i, j int) bool {
		a, b := splices[i], splices[j]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		if a.sub != b.sub {
			return a.sub < b.sub
		}
		if a.group != b.group {
			return a.group < b.group
		}
		if a.group == groupOpen {
			// Longest first, so the outer span opens before the inner one.
			if a.span.End != b.span.End {
				return a.span.End > b.span.End
			}
			return a.span.Number < b.span.Number
		}
		// Innermost first.
		if a.span.Start != b.span.Start {
			return a.span.Start > b.span.Start
		}
		return a.span.Number > b.span.Number
	})

	var b strings.Builder
	b.Grow(len(markup) + len(splices)*16)
	last := 0
	for i := 0; i < len(splices); {
		sp := splices[i]
		ref, ok := rewrites[sp.pos]
		if !ok {
			b.WriteString(markup[last:sp.pos])
			b.WriteString(sp.text)
			last = sp.pos
			i++
			continue
		}
		b.WriteString(markup[last:ref.start])
		for k, r := range ref.runes {
			for i < len(splices) && splices[i].pos == ref.start && splices[i].sub == k {
				b.WriteString(splices[i].text)
				i++
			}
			fmt.Fprintf(&b, "&#x%X;", r)
		}
		last = ref.end
	}
	b.WriteString(markup[last:])

	return Projection{Markup: b.String(), Spans: numbered}, nil
}
