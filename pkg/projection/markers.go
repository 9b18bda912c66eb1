package projection

import (
	"regexp"
	"strconv"
	"strings"

	"annotation-collab-be/pkg/offset"
)

// Marker token grammar. Tokens are plain alphanumerics so they survive any
// text-to-document conversion untouched.
const (
	openPrefix  = "HLSTART"
	closePrefix = "HLEND"
	hlSuffix    = "ENDHL"
	annPrefix   = "ANNMARKER"
	annSuffix   = "ENDMARKER"
)

type MarkerKind int

const (
	MarkerOpen MarkerKind = iota
	MarkerClose
	MarkerAnnotation
)

func OpenToken(n int) string       { return openPrefix + strconv.Itoa(n) + hlSuffix }
func CloseToken(n int) string      { return closePrefix + strconv.Itoa(n) + hlSuffix }
func AnnotationToken(n int) string { return annPrefix + strconv.Itoa(n) + annSuffix }

// ParseMarker reads the marker token at the start of s and returns its
// length, kind and number. A length of 0 means no token.
func ParseMarker(s string) (int, MarkerKind, int) {
	for _, g := range []struct {
		prefix, suffix string
		kind           MarkerKind
	}{
		{openPrefix, hlSuffix, MarkerOpen},
		{closePrefix, hlSuffix, MarkerClose},
		{annPrefix, annSuffix, MarkerAnnotation},
	} {
		if !strings.HasPrefix(s, g.prefix) {
			continue
		}
		i := len(g.prefix)
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i || !strings.HasPrefix(s[j:], g.suffix) {
			continue
		}
		n, err := strconv.Atoi(s[i:j])
		if err != nil {
			continue
		}
		return j + len(g.suffix), g.kind, n
	}
	return 0, 0, 0
}

// MatchMarker is an offset.TokenMatcher for the marker grammar.
func MatchMarker(s string) int {
	n, _, _ := ParseMarker(s)
	return n
}

// Extracted is the marker-aware reading of projected markup.
type Extracted struct {
	Text        string
	Open        map[int]int
	Close       map[int]int
	Annotations map[int]int
}

type extractor struct {
	text strings.Builder
	out  *Extracted
}

func (e *extractor) VisitChar(c offset.Char) {
	e.text.WriteRune(c.Rune)
}

func (e *extractor) VisitToken(t offset.Token) {
	_, kind, n := ParseMarker(t.Text)
	switch kind {
	case MarkerOpen:
		e.out.Open[n] = t.Offset
	case MarkerClose:
		e.out.Close[n] = t.Offset
	case MarkerAnnotation:
		e.out.Annotations[n] = t.Offset
	}
}

// Extract flattens projected markup with tokens treated as zero width and
// reports the offset each token sits at.
func Extract(projected string) Extracted {
	out := &Extracted{
		Open:        make(map[int]int),
		Close:       make(map[int]int),
		Annotations: make(map[int]int),
	}
	e := &extractor{out: out}
	offset.Walk(projected, e, offset.WithTokens(MatchMarker))
	out.Text = e.text.String()
	return *out
}

var markerPattern = regexp.MustCompile(`(HLSTART|HLEND|ANNMARKER)(\d+)(ENDHL|ENDMARKER)`)

// Substitute replaces every marker token in s with the formatter's syntax.
func Substitute(s string, replace func(kind MarkerKind, n int) string) string {
	return markerPattern.ReplaceAllStringFunc(s, func(tok string) string {
		size, kind, n := ParseMarker(tok)
		if size != len(tok) {
			return tok
		}
		return replace(kind, n)
	})
}
