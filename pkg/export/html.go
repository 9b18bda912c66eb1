package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"annotation-collab-be/pkg/projection"
)

// Highlights may overlap, so boundaries are rendered as empty milestone
// elements rather than wrapping tags.
func htmlMarker(kind projection.MarkerKind, n int) string {
	switch kind {
	case projection.MarkerOpen:
		return fmt.Sprintf(`<span class="hl-start" data-hl="%d"></span>`, n)
	case projection.MarkerClose:
		return fmt.Sprintf(`<span class="hl-end" data-hl="%d"></span>`, n)
	default:
		return fmt.Sprintf(`<sup class="ann" id="ref-%d"><a href="#note-%d">%d</a></sup>`, n, n, n)
	}
}

var htmlPage = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>{{.Body}}</article>
{{- if .Notes}}
<section class="annotations">
<ol>
{{- range .Notes}}
<li id="note-{{.Number}}" value="{{.Number}}">{{if .Tag}}<strong>{{.Tag}}</strong>{{end}}
{{- range .Comments}}
<p><em>{{.Author}}</em>: {{.Body}}</p>
{{- end}}
<a href="#ref-{{.Number}}">&#8617;</a></li>
{{- end}}
</ol>
</section>
{{- end}}
</body>
</html>
`))

type HTMLFormatter struct{}

func NewHTMLFormatter() *HTMLFormatter {
	return &HTMLFormatter{}
}

// RenderHTML is the page the other formats are converted from.
func RenderHTML(in Input, marker func(projection.MarkerKind, int) string) ([]byte, error) {
	body := projection.Substitute(in.Projected, marker)
	var buf bytes.Buffer
	err := htmlPage.Execute(&buf, struct {
		Title string
		Body  template.HTML
		Notes []Note
	}{
		Title: in.Title,
		// Imported markup is trusted content owned by the document.
		Body:  template.HTML(body),
		Notes: in.Notes,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *HTMLFormatter) Format(_ context.Context, in Input) (*Artifact, error) {
	data, err := RenderHTML(in, htmlMarker)
	if err != nil {
		return nil, err
	}
	return &Artifact{ContentType: "text/html; charset=utf-8", Extension: "html", Data: data}, nil
}
