package offset

import (
	"errors"
	"reflect"
	"testing"
)

var fixtures = []struct {
	name   string
	markup string
	want   string
}{
	{name: "collapsed double space", markup: "Hello  world", want: "Hello world"},
	{name: "whitespace between blocks", markup: "<p>Hello</p>\n  <p>world</p>", want: "Helloworld"},
	{name: "line break", markup: "a<br>b", want: "a\nb"},
	{name: "line break resets run", markup: "a <br> b", want: "a \n b"},
	{name: "self closing break", markup: "a<br/>b", want: "a\nb"},
	{name: "script excluded", markup: "x<script>var a = 1;</script>y", want: "xy"},
	{name: "style excluded", markup: "<style>p { color: red }</style><p>t</p>", want: "t"},
	{name: "template excluded", markup: "<template><p>hidden</p></template>shown", want: "shown"},
	{name: "named entity", markup: "Tom &amp; Jerry", want: "Tom & Jerry"},
	{name: "non breaking spaces kept", markup: "a&nbsp;&nbsp;b", want: "a\u00a0\u00a0b"},
	{name: "numeric entity", markup: "&#72;&#x69;", want: "Hi"},
	{name: "space between inline elements", markup: "<b>bold</b> <i>it</i>", want: "bold it"},
	{name: "run across inline boundary", markup: "a <b> b</b>", want: "a b"},
	{name: "non latin script", markup: "こんにちは 世界", want: "こんにちは 世界"},
	{name: "empty markup", markup: "", want: ""},
	{name: "whitespace only block", markup: "<div>  </div>", want: ""},
	{name: "comment only", markup: "<!-- note -->", want: ""},
	{name: "comment splits text", markup: "<p>a<!-- x -->b</p>", want: "ab"},
	{name: "pre leading newline", markup: "<pre>\nline</pre>", want: "line"},
	{name: "list items", markup: "<ul>\n <li>one</li>\n <li>two</li>\n</ul>", want: "onetwo"},
	{name: "tabs and newlines", markup: "tab\tand\nnewline", want: "tab and newline"},
	{name: "leading space in block", markup: "<p> lead</p>", want: " lead"},
	{name: "table cells", markup: "<table><tr><td>a</td><td>b</td></tr></table>", want: "ab"},
	{name: "implicitly closed paragraph", markup: "<p>one<p>two", want: "onetwo"},
	{name: "escaped tag text", markup: "&lt;tag&gt;", want: "<tag>"},
	{name: "horizontal rule", markup: "above<hr>below", want: "abovebelow"},
	{name: "full document wrapper", markup: "<html><head><title>T</title><body><p>Hi</p></body></html>", want: "Hi"},
	{name: "head without end tag", markup: "<head><meta charset=utf-8>Hi there", want: "Hi there"},
	{name: "stray body tag", markup: "a <body> b", want: "a b"},
	{name: "stray table cell", markup: "a <td> b", want: "a b"},
	{name: "pre newline after ignored end tag", markup: "b<pre></b>\na\r\n", want: "ba "},
	{name: "pre newline after comment", markup: "<pre><!--c-->\nx</pre>", want: " x"},
	{name: "pre newline after stray paragraph end", markup: "<pre></p>\nx</pre>", want: " x"},
}

func TestFlatten(t *testing.T) {
	for _, tt := range fixtures {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(tt.markup)
			if got.String() != tt.want {
				t.Errorf("Flatten(%q) = %q, want %q", tt.markup, got.String(), tt.want)
			}
			if got.Len() != len([]rune(tt.want)) {
				t.Errorf("Len = %d, want %d", got.Len(), len([]rune(tt.want)))
			}
		})
	}
}

func TestFlattenParity(t *testing.T) {
	for _, tt := range fixtures {
		t.Run(tt.name, func(t *testing.T) {
			stream := Flatten(tt.markup)
			tree := FlattenTree(tt.markup)
			if !reflect.DeepEqual([]rune(stream), []rune(tree)) {
				t.Errorf("stream %q and tree %q disagree", stream.String(), tree.String())
			}
		})
	}
}

func TestFlattenEmptyIsNotNil(t *testing.T) {
	seq := Flatten("<div>\n</div>")
	if seq == nil {
		t.Fatal("Flatten returned nil sequence")
	}
	if seq.Len() != 0 {
		t.Errorf("Len = %d, want 0", seq.Len())
	}
}

func TestLocate(t *testing.T) {
	markup := "<p>Hello <b>world</b></p>"

	tests := []struct {
		name    string
		offset  int
		want    Position
		wantErr bool
	}{
		{
			name:   "first character",
			offset: 0,
			want:   Position{Offset: 0, Kind: PositionChar, Rune: "H", ByteStart: 3, ByteEnd: 4, Path: []int{0}, Element: "p"},
		},
		{
			name:   "character inside inline element",
			offset: 6,
			want:   Position{Offset: 6, Kind: PositionChar, Rune: "w", ByteStart: 12, ByteEnd: 13, Path: []int{0, 0}, Element: "b"},
		},
		{
			name:   "end of content",
			offset: 11,
			want:   Position{Offset: 11, Kind: PositionEnd, ByteStart: 17, ByteEnd: 17, Path: []int{0, 0}, Element: "b"},
		},
		{name: "past the end", offset: 12, wantErr: true},
		{name: "negative", offset: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(markup, tt.offset)
			if tt.wantErr {
				if !errors.Is(err, ErrOffsetOutOfRange) {
					t.Fatalf("err = %v, want ErrOffsetOutOfRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Locate(%d) = %+v, want %+v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestLocateEntityAndBreak(t *testing.T) {
	pos, err := Locate("a&amp;b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Rune != "&" || pos.ByteStart != 1 || pos.ByteEnd != 6 {
		t.Errorf("entity position = %+v", pos)
	}

	pos, err = Locate("a<br>b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Rune != "\n" || pos.Element != "br" || pos.ByteStart != 1 || pos.ByteEnd != 5 {
		t.Errorf("break position = %+v", pos)
	}
}

func TestLocateEmptyDocument(t *testing.T) {
	pos, err := Locate("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Kind != PositionEnd {
		t.Errorf("Kind = %v, want PositionEnd", pos.Kind)
	}
}

type recorder struct {
	chars  []Char
	tokens []Token
}

func (r *recorder) VisitChar(c Char)   { r.chars = append(r.chars, c) }
func (r *recorder) VisitToken(t Token) { r.tokens = append(r.tokens, t) }

func TestWalkWithTokens(t *testing.T) {
	match := func(s string) int {
		if len(s) >= 2 && s[:2] == "@@" {
			return 2
		}
		return 0
	}

	r := &recorder{}
	n := Walk("ab@@cd", r, WithTokens(match))
	if n != 4 {
		t.Fatalf("length = %d, want 4", n)
	}
	if len(r.tokens) != 1 {
		t.Fatalf("tokens = %d, want 1", len(r.tokens))
	}
	tok := r.tokens[0]
	if tok.Offset != 2 || tok.Start != 2 || tok.End != 4 || tok.Text != "@@" {
		t.Errorf("token = %+v", tok)
	}
}

func TestChecksum(t *testing.T) {
	got := Sequence("abc").Checksum()
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Checksum = %s, want %s", got, want)
	}
}
