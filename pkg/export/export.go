// Package export turns projected markup into downloadable artifacts.
package export

import (
	"context"
	"errors"
)

var (
	ErrFormatterUnavailable = errors.New("export formatter unavailable")
	ErrUnknownFormat        = errors.New("unknown export format")
)

// Comment is one comment line printed in the annotation appendix.
type Comment struct {
	Author string
	Body   string
}

// Note describes the annotations attached to span Number.
type Note struct {
	Number   int
	Tag      string
	Comments []Comment
}

// Input is projected markup plus what the formatter needs to render notes.
type Input struct {
	Title     string
	Projected string
	Notes     []Note
}

type Artifact struct {
	ContentType string
	Extension   string
	Data        []byte
}

type Formatter interface {
	Format(ctx context.Context, in Input) (*Artifact, error)
}

// Registry picks a formatter by name.
type Registry map[string]Formatter

func (r Registry) Get(format string) (Formatter, error) {
	f, ok := r[format]
	if !ok {
		return nil, ErrUnknownFormat
	}
	return f, nil
}

// DefaultRegistry wires html plus the pandoc-backed latex and docx formats.
func DefaultRegistry(pandocPath string) Registry {
	return Registry{
		"html":  NewHTMLFormatter(),
		"latex": NewPandocFormatter(pandocPath, FormatLatex),
		"docx":  NewPandocFormatter(pandocPath, FormatDocx),
	}
}
