package offset

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type frame struct {
	name     string
	path     []int
	children int
}

func childPath(parent []int, idx int) []int {
	path := make([]int, len(parent)+1)
	copy(path, parent)
	path[len(parent)] = idx
	return path
}

// bodyIgnored lists the start tags the fragment parser discards in body content.
var bodyIgnored = map[string]bool{"html": true, "head": true, "body": true, "frame": true}

// tableParts are discarded unless a table is open.
var tableParts = map[string]bool{
	"caption": true, "col": true, "colgroup": true, "tbody": true, "td": true,
	"tfoot": true, "th": true, "thead": true, "tr": true,
}

func ignoredStart(tag string, stack []*frame) bool {
	if bodyIgnored[tag] {
		return true
	}
	if !tableParts[tag] {
		return false
	}
	for _, f := range stack {
		if f.name == "table" {
			return false
		}
	}
	return true
}

// streamEvents tokenizes markup and keeps the raw byte range of every unit.
func streamEvents(markup string, tokens TokenMatcher) []event {
	z := html.NewTokenizer(strings.NewReader(markup))

	var (
		events    []event
		stack     []*frame
		root      = &frame{}
		pos       int
		skipName  string
		skipDepth int
		dropNL    bool // a leading newline of pre/listing/textarea is still droppable
		literal   bool
		lastText  = -1
	)
	top := func() *frame {
		if len(stack) == 0 {
			return root
		}
		return stack[len(stack)-1]
	}
	lineBreak := func(start, end int) {
		parent := top()
		path := childPath(parent.path, parent.children)
		parent.children++
		events = append(events, event{kind: evBreak, start: start, end: end, path: path, element: "br"})
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		start := pos
		pos += len(z.Raw())

		switch tt {
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := markup[start:pos]
			base := start
			if dropNL {
				switch {
				case strings.HasPrefix(text, "\r\n"):
					text, base = text[2:], base+2
				case strings.HasPrefix(text, "\n"), strings.HasPrefix(text, "\r"):
					text, base = text[1:], base+1
				}
				dropNL = false
			}
			units := splitUnits(text, base, !literal, tokens)
			if lastText >= 0 && lastText == len(events)-1 {
				events[lastText].units = append(events[lastText].units, units...)
				continue
			}
			f := top()
			events = append(events, event{kind: evText, units: units, path: f.path, element: f.name})
			lastText = len(events) - 1
			continue

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipDepth > 0 {
				if tag == skipName && tt == html.StartTagToken {
					skipDepth++
				}
				break
			}
			if ignoredStart(tag, stack) {
				continue
			}
			dropNL = false
			if tag == "br" {
				lineBreak(start, pos)
				break
			}
			parent := top()
			path := childPath(parent.path, parent.children)
			parent.children++
			if hiddenElements[tag] {
				skipName, skipDepth = tag, 1
				break
			}
			if blockElements[tag] {
				events = append(events, event{kind: evBlock, path: path, element: tag})
			}
			if voidElements[tag] {
				break
			}
			stack = append(stack, &frame{name: tag, path: path})
			switch tag {
			case "pre", "listing", "textarea":
				dropNL = true
			case "xmp", "plaintext":
				literal = true
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipDepth > 0 {
				if tag == skipName {
					skipDepth--
				}
				break
			}
			if tag == "br" {
				dropNL = false
				lineBreak(start, pos)
				break
			}
			i := len(stack) - 1
			for i >= 0 && stack[i].name != tag {
				i--
			}
			if i < 0 {
				if tag != "p" {
					continue
				}
				// A stray </p> becomes an empty paragraph.
				dropNL = false
				parent := top()
				path := childPath(parent.path, parent.children)
				parent.children++
				events = append(events, event{kind: evBlock, path: path, element: tag})
				break
			}
			for _, f := range stack[i:] {
				if f.name == "xmp" {
					literal = false
				}
			}
			closed := stack[i]
			stack = stack[:i]
			dropNL = false
			if blockElements[tag] {
				events = append(events, event{kind: evBlock, path: closed.path, element: tag})
			}

		case html.CommentToken:
			dropNL = false

		default:
			continue
		}
		lastText = -1
	}
	return events
}

// treeEvents walks the DOM produced by parsing markup as body content.
func treeEvents(markup string, tokens TokenMatcher) []event {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil
	}
	w := &treeWalker{tokens: tokens}
	w.walk(nodes, nil, "")
	return w.events
}

type treeWalker struct {
	tokens TokenMatcher
	events []event
}

func (w *treeWalker) walk(nodes []*html.Node, path []int, parent string) {
	idx := 0
	for _, n := range nodes {
		switch n.Type {
		case html.TextNode:
			w.events = append(w.events, event{
				kind:    evText,
				units:   splitUnits(n.Data, -1, false, w.tokens),
				path:    path,
				element: parent,
			})
		case html.ElementNode:
			child := childPath(path, idx)
			idx++
			switch {
			case hiddenElements[n.Data]:
			case n.Data == "br":
				w.events = append(w.events, event{kind: evBreak, start: -1, end: -1, path: child, element: "br"})
			case blockElements[n.Data]:
				w.events = append(w.events, event{kind: evBlock, path: child, element: n.Data})
				w.walk(children(n), child, n.Data)
				w.events = append(w.events, event{kind: evBlock, path: child, element: n.Data})
			default:
				w.walk(children(n), child, n.Data)
			}
		}
	}
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}
