package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"annotation-collab-be/pkg/projection"
)

type PandocFormat string

const (
	FormatLatex PandocFormat = "latex"
	FormatDocx  PandocFormat = "docx"
)

const latexMacros = `\usepackage{xcolor}
\newcommand{\hlstart}[1]{\textcolor{orange}{[}}
\newcommand{\hlend}[1]{\textcolor{orange}{]}}
\newcommand{\annmarker}[1]{\textsuperscript{#1}}`

// PandocFormatter converts the rendered HTML page with an external pandoc
// binary. Marker tokens pass through pandoc unchanged.
type PandocFormatter struct {
	binary string
	format PandocFormat
}

func NewPandocFormatter(binary string, format PandocFormat) *PandocFormatter {
	if binary == "" {
		binary = "pandoc"
	}
	return &PandocFormatter{binary: binary, format: format}
}

// LatexMarker renders marker tokens as the macros defined in the preamble.
func LatexMarker(kind projection.MarkerKind, n int) string {
	switch kind {
	case projection.MarkerOpen:
		return fmt.Sprintf(`\hlstart{%d}`, n)
	case projection.MarkerClose:
		return fmt.Sprintf(`\hlend{%d}`, n)
	default:
		return fmt.Sprintf(`\annmarker{%d}`, n)
	}
}

// docxMarker keeps boundaries readable in a word processor.
func docxMarker(kind projection.MarkerKind, n int) string {
	switch kind {
	case projection.MarkerOpen:
		return "["
	case projection.MarkerClose:
		return "]"
	default:
		return fmt.Sprintf("<sup>%d</sup>", n)
	}
}

func keepMarker(kind projection.MarkerKind, n int) string {
	switch kind {
	case projection.MarkerOpen:
		return projection.OpenToken(n)
	case projection.MarkerClose:
		return projection.CloseToken(n)
	default:
		return projection.AnnotationToken(n)
	}
}

func (f *PandocFormatter) Format(ctx context.Context, in Input) (*Artifact, error) {
	path, err := exec.LookPath(f.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormatterUnavailable, f.binary, err)
	}

	switch f.format {
	case FormatLatex:
		page, err := RenderHTML(in, keepMarker)
		if err != nil {
			return nil, err
		}
		out, err := f.run(ctx, path, page, "-f", "html", "-t", "latex", "-s", "-V", "header-includes="+latexMacros)
		if err != nil {
			return nil, err
		}
		tex := projection.Substitute(string(out), LatexMarker)
		return &Artifact{ContentType: "application/x-latex", Extension: "tex", Data: []byte(tex)}, nil

	case FormatDocx:
		page, err := RenderHTML(in, docxMarker)
		if err != nil {
			return nil, err
		}
		out, err := f.run(ctx, path, page, "-f", "html", "-t", "docx", "-o", "-")
		if err != nil {
			return nil, err
		}
		return &Artifact{
			ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Extension:   "docx",
			Data:        out,
		}, nil
	}
	return nil, ErrUnknownFormat
}

func (f *PandocFormatter) run(ctx context.Context, path string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pandoc %s: %w: %s", f.format, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
