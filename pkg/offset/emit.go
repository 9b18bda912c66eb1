package offset

import (
	"unicode/utf8"

	"golang.org/x/net/html"
)

type eventKind int

const (
	evText eventKind = iota
	evBreak
	evBlock
)

// unit is one source character of a text event. A non-empty token marks a
// zero-width token instead of a character.
type unit struct {
	r     rune
	start int
	end   int
	token string
}

type event struct {
	kind    eventKind
	units   []unit
	start   int
	end     int
	path    []int
	element string
}

func (e event) blank() bool {
	for _, u := range e.units {
		if u.token == "" && !isSpace(u.r) {
			return false
		}
	}
	return true
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "caption": true,
	"dd": true, "details": true, "dialog": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hgroup": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true, "section": true, "summary": true,
	"table": true, "tbody": true, "td": true, "tfoot": true, "th": true, "thead": true, "tr": true, "ul": true,
}

var hiddenElements = map[string]bool{
	"script": true, "style": true, "template": true, "noscript": true, "title": true,
	"iframe": true, "noembed": true, "noframes": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

// splitUnits cuts text into units. base is the byte offset of text in the
// markup, or -1 when text did not come from raw markup. With decode set,
// character references are resolved the way the tokenizer resolves them and
// each decoded rune keeps the byte range of its whole reference.
func splitUnits(text string, base int, decode bool, tokens TokenMatcher) []unit {
	units := make([]unit, 0, len(text))
	pos := func(i int) int {
		if base < 0 {
			return -1
		}
		return base + i
	}

	for i := 0; i < len(text); {
		if tokens != nil {
			if n := tokens(text[i:]); n > 0 {
				units = append(units, unit{start: pos(i), end: pos(i + n), token: text[i : i+n]})
				i += n
				continue
			}
		}

		c := text[i]
		switch {
		case c == 0:
			i++
			continue
		case c == '\r':
			n := 1
			if i+1 < len(text) && text[i+1] == '\n' {
				n = 2
			}
			units = append(units, unit{r: '\n', start: pos(i), end: pos(i + n)})
			i += n
			continue
		case c == '&' && decode:
			if n, decoded := reference(text[i:]); n > 0 {
				for _, r := range decoded {
					units = append(units, unit{r: r, start: pos(i), end: pos(i + n)})
				}
				i += n
				continue
			}
		}

		r, size := utf8.DecodeRuneInString(text[i:])
		units = append(units, unit{r: r, start: pos(i), end: pos(i + size)})
		i += size
	}
	return units
}

// reference returns the length and decoded value of the character reference
// at the start of s, or 0 when s does not start with one.
func reference(s string) (int, string) {
	k := 1
	if k < len(s) && s[k] == '#' {
		k++
		if k < len(s) && (s[k] == 'x' || s[k] == 'X') {
			k++
		}
	}
	for k < len(s) && isAlnum(s[k]) {
		k++
	}
	if k < len(s) && s[k] == ';' {
		k++
	}

	candidate := s[:k]
	decoded := html.UnescapeString(candidate)
	if decoded == candidate {
		return 0, ""
	}
	// The tokenizer may resolve only a prefix of the name (legacy references
	// without a semicolon), so find the shortest prefix that explains the result.
	for m := 2; m <= len(candidate); m++ {
		prefix := html.UnescapeString(candidate[:m])
		if prefix == candidate[:m] {
			continue
		}
		if prefix+candidate[m:] == decoded {
			return m, prefix
		}
	}
	return 0, ""
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// skippable marks the whitespace-only text events whose nearest structural
// neighbours on both sides are block boundaries or the document edges.
func skippable(events []event) []bool {
	n := len(events)
	blank := make([]bool, n)
	for i, e := range events {
		blank[i] = e.kind == evText && e.blank()
	}

	leftOK := make([]bool, n)
	ok := true
	for i := 0; i < n; i++ {
		if blank[i] {
			leftOK[i] = ok
			continue
		}
		ok = events[i].kind == evBlock
	}

	skip := make([]bool, n)
	ok = true
	for i := n - 1; i >= 0; i-- {
		if blank[i] {
			skip[i] = leftOK[i] && ok
			continue
		}
		ok = events[i].kind == evBlock
	}
	return skip
}

// emit applies the collapse rules to an event stream and feeds the visitor.
func emit(events []event, v Visitor) int {
	skip := skippable(events)
	offset := 0
	inRun := false

	for i, e := range events {
		switch e.kind {
		case evBlock:
			inRun = false
		case evBreak:
			v.VisitChar(Char{
				Offset:  offset,
				Rune:    '\n',
				Kind:    KindBreak,
				Start:   e.start,
				End:     e.end,
				Path:    e.path,
				Element: "br",
			})
			offset++
			inRun = false
		case evText:
			for _, u := range e.units {
				if u.token != "" {
					v.VisitToken(Token{Text: u.token, Offset: offset, Start: u.start, End: u.end})
					continue
				}
				if skip[i] {
					continue
				}
				r := u.r
				if isSpace(r) {
					if inRun {
						continue
					}
					r = ' '
					inRun = true
				} else {
					inRun = false
				}
				v.VisitChar(Char{
					Offset:  offset,
					Rune:    r,
					Kind:    KindText,
					Start:   u.start,
					End:     u.end,
					Path:    e.path,
					Element: e.element,
				})
				offset++
			}
		}
	}
	return offset
}
