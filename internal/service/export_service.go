package service

import (
	"context"
	"fmt"

	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/repository/contract"
	internalWS "annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/export"
	"annotation-collab-be/pkg/projection"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type IExportService interface {
	Export(ctx context.Context, id uuid.UUID, format string) (*export.Artifact, string, error)
}

type exportService struct {
	documents  documentReader
	formatters export.Registry
	logger     logger.ILogger
}

func NewExportService(repo contract.DocumentRepository, loader *DocumentLoader, hub *internalWS.Hub, formatters export.Registry, log logger.ILogger) IExportService {
	return &exportService{
		documents:  documentReader{repo: repo, loader: loader, hub: hub},
		formatters: formatters,
		logger:     log,
	}
}

// BuildSpans turns live highlights into projection spans plus the notes the
// formatter prints for them, keyed by span number.
func BuildSpans(highlights []shareddoc.HighlightView) ([]projection.Span, func([]projection.NumberedSpan) []export.Note) {
	byID := make(map[string]shareddoc.HighlightView, len(highlights))
	spans := make([]projection.Span, 0, len(highlights))
	for _, h := range highlights {
		byID[h.ID] = h
		spans = append(spans, projection.Span{
			ID:        h.ID,
			Start:     h.Start,
			End:       h.End,
			Annotated: h.TagID != nil || len(h.Comments) > 0,
		})
	}

	notes := func(numbered []projection.NumberedSpan) []export.Note {
		var out []export.Note
		for _, s := range numbered {
			if !s.Annotated {
				continue
			}
			h := byID[s.ID]
			note := export.Note{Number: s.Number}
			if h.TagID != nil {
				note.Tag = *h.TagID
			}
			for _, c := range h.Comments {
				note.Comments = append(note.Comments, export.Comment{Author: c.AuthorID, Body: c.Body})
			}
			out = append(out, note)
		}
		return out
	}
	return spans, notes
}

func (s *exportService) Export(ctx context.Context, id uuid.UUID, format string) (*export.Artifact, string, error) {
	ctx, span := otel.Tracer("annotation-collab-be/export").Start(ctx, "export.document")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id.String()), attribute.String("export.format", format))

	formatter, err := s.formatters.Get(format)
	if err != nil {
		return nil, "", err
	}
	doc, err := s.documents.find(ctx, id)
	if err != nil {
		return nil, "", err
	}
	state, err := s.documents.currentState(ctx, id.String())
	if err != nil {
		return nil, "", err
	}

	spans, notesFor := BuildSpans(state.Highlights)
	projected, err := projection.Project(doc.Content, spans)
	if err != nil {
		s.logger.Warn("ExportService", "Projection rejected", map[string]interface{}{
			"document_id": id.String(),
			"error":       err.Error(),
		})
		return nil, "", err
	}

	artifact, err := formatter.Format(ctx, export.Input{
		Title:     doc.Title,
		Projected: projected.Markup,
		Notes:     notesFor(projected.Spans),
	})
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	s.logger.Info("ExportService", "Document exported", map[string]interface{}{
		"document_id": id.String(),
		"format":      format,
		"highlights":  len(spans),
		"bytes":       len(artifact.Data),
	})
	return artifact, fmt.Sprintf("%s.%s", id.String(), artifact.Extension), nil
}
