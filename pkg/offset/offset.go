// Package offset converts structural markup (HTML) into the flat, zero-indexed
// character sequence that every annotation is addressed against, and maps
// offsets back onto the markup.
//
// Two walkers produce the same sequence: a streaming tokenizer walk that keeps
// raw byte positions (used for Locate and marker projection) and a DOM walk
// over the parsed fragment, which mirrors what the rendering surface does in
// the browser. Both feed the same emitter, so the collapse rules live in one
// place.
package offset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrOffsetOutOfRange is returned by Locate for offsets outside [0, length].
var ErrOffsetOutOfRange = errors.New("offset out of range")

// Sequence is the flattened character sequence of a document.
type Sequence []rune

func (s Sequence) Len() int {
	return len(s)
}

func (s Sequence) String() string {
	return string(s)
}

// Slice returns the characters in [start, end). Callers validate bounds.
func (s Sequence) Slice(start, end int) string {
	return string(s[start:end])
}

// Checksum is the hex SHA-256 of the UTF-8 encoded sequence. Clients send the
// same digest of their own flattening so the server can detect divergence.
func (s Sequence) Checksum() string {
	sum := sha256.Sum256([]byte(string(s)))
	return hex.EncodeToString(sum[:])
}

// CharKind tells whether a character came from text content or a line break element.
type CharKind int

const (
	KindText CharKind = iota
	KindBreak
)

// Char is one visible character together with where it came from.
// Start and End are the raw byte range in the markup; they are -1 for the tree walker.
type Char struct {
	Offset  int
	Rune    rune
	Kind    CharKind
	Start   int
	End     int
	Path    []int
	Element string
}

// Token is a zero-width literal recognised by a TokenMatcher (marker tokens on
// projected output). Offset is the position the token sits at.
type Token struct {
	Text   string
	Offset int
	Start  int
	End    int
}

// TokenMatcher reports the byte length of a zero-width token at the start of
// text, or 0 when there is none.
type TokenMatcher func(text string) int

// Visitor receives characters and tokens in document order.
type Visitor interface {
	VisitChar(c Char)
	VisitToken(t Token)
}

type options struct {
	tokens TokenMatcher
}

// Option configures a walk.
type Option func(*options)

// WithTokens makes the walk treat matched literals as zero-width tokens.
func WithTokens(m TokenMatcher) Option {
	return func(o *options) {
		o.tokens = m
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Walk runs the streaming walk over markup and returns the sequence length.
func Walk(markup string, v Visitor, opts ...Option) int {
	o := buildOptions(opts)
	return emit(streamEvents(markup, o.tokens), v)
}

// WalkTree runs the DOM walk over markup and returns the sequence length.
func WalkTree(markup string, v Visitor, opts ...Option) int {
	o := buildOptions(opts)
	return emit(treeEvents(markup, o.tokens), v)
}

type collector struct {
	seq Sequence
}

func (c *collector) VisitChar(ch Char) {
	c.seq = append(c.seq, ch.Rune)
}

func (c *collector) VisitToken(Token) {}

// Flatten returns the character sequence of markup. Markup with no visible
// characters yields an empty sequence.
func Flatten(markup string) Sequence {
	c := &collector{seq: Sequence{}}
	Walk(markup, c)
	return c.seq
}

// FlattenTree flattens markup by walking the parsed DOM.
func FlattenTree(markup string) Sequence {
	c := &collector{seq: Sequence{}}
	WalkTree(markup, c)
	return c.seq
}

// PositionKind distinguishes a character position from the end-of-content position.
type PositionKind int

const (
	PositionChar PositionKind = iota
	PositionEnd
)

// Position is the structural location of an offset in the markup.
type Position struct {
	Offset    int          `json:"offset"`
	Kind      PositionKind `json:"kind"`
	Rune      string       `json:"char,omitempty"`
	ByteStart int          `json:"byte_start"`
	ByteEnd   int          `json:"byte_end"`
	Path      []int        `json:"path"`
	Element   string       `json:"element"`
}

type locator struct {
	target int
	found  *Position
	last   *Char
}

func (l *locator) VisitChar(c Char) {
	if c.Offset == l.target && l.found == nil {
		l.found = &Position{
			Offset:    c.Offset,
			Kind:      PositionChar,
			Rune:      string(c.Rune),
			ByteStart: c.Start,
			ByteEnd:   c.End,
			Path:      append([]int{}, c.Path...),
			Element:   c.Element,
		}
	}
	cc := c
	l.last = &cc
}

func (l *locator) VisitToken(Token) {}

// Locate maps offset back onto the markup. offset == length addresses the
// position just after the last character.
func Locate(markup string, offset int) (Position, error) {
	if offset < 0 {
		return Position{}, fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset)
	}
	l := &locator{target: offset}
	length := Walk(markup, l)
	if l.found != nil {
		return *l.found, nil
	}
	if offset != length {
		return Position{}, fmt.Errorf("%w: %d (length %d)", ErrOffsetOutOfRange, offset, length)
	}

	end := Position{Offset: offset, Kind: PositionEnd, Path: []int{}}
	if l.last != nil {
		end.ByteStart = l.last.End
		end.ByteEnd = l.last.End
		end.Path = append([]int{}, l.last.Path...)
		end.Element = l.last.Element
	}
	return end, nil
}
