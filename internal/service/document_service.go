package service

import (
	"context"
	"strings"

	"annotation-collab-be/internal/dto"
	"annotation-collab-be/internal/entity"
	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/repository/contract"
	internalWS "annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/events"
	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
)

type IDocumentService interface {
	Import(ctx context.Context, userID string, req *dto.ImportDocumentRequest) (*dto.DocumentResponse, error)
	Show(ctx context.Context, id uuid.UUID) (*dto.ShowDocumentResponse, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*dto.DocumentResponse, error)
	Locate(ctx context.Context, id uuid.UUID, charOffset int) (*dto.LocateResponse, error)
	State(ctx context.Context, id uuid.UUID) (*dto.DocumentStateResponse, error)
	Parity(ctx context.Context, id uuid.UUID, req *dto.ParityRequest) (*dto.ParityResponse, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// documentReader resolves document rows and their current shared state.
type documentReader struct {
	repo   contract.DocumentRepository
	loader *DocumentLoader
	hub    *internalWS.Hub
}

type documentService struct {
	documentReader
	publisher EventPublisher
	logger    logger.ILogger
}

func NewDocumentService(repo contract.DocumentRepository, loader *DocumentLoader, hub *internalWS.Hub, publisher EventPublisher, log logger.ILogger) IDocumentService {
	return &documentService{
		documentReader: documentReader{repo: repo, loader: loader, hub: hub},
		publisher:      publisher,
		logger:         log,
	}
}

func toDocumentResponse(d *entity.Document) *dto.DocumentResponse {
	return &dto.DocumentResponse{
		Id:         d.Id,
		Title:      d.Title,
		CharLength: d.CharLength,
		Checksum:   d.Checksum,
		Metadata:   d.Metadata,
		CreatedBy:  d.CreatedBy,
		CreatedAt:  d.CreatedAt,
	}
}

// Import stores the markup and computes its character sequence once. The
// sequence never changes afterwards, so highlight offsets stay valid.
func (s *documentService) Import(ctx context.Context, userID string, req *dto.ImportDocumentRequest) (*dto.DocumentResponse, error) {
	seq := offset.Flatten(req.Content)
	if tree := offset.FlattenTree(req.Content); tree.Checksum() != seq.Checksum() {
		s.logger.Warn("DocumentService", "Stream and tree walks disagree on imported markup", map[string]interface{}{
			"stream_length": seq.Len(),
			"tree_length":   tree.Len(),
		})
	}

	doc := &entity.Document{
		Id:         uuid.New(),
		Title:      strings.TrimSpace(req.Title),
		Content:    req.Content,
		FlatText:   seq.String(),
		CharLength: seq.Len(),
		Checksum:   seq.Checksum(),
		Metadata:   req.Metadata,
		CreatedBy:  userID,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("DocumentService", "Document imported", map[string]interface{}{
		"document_id": doc.Id.String(),
		"char_length": doc.CharLength,
		"user_id":     userID,
	})
	if s.publisher != nil {
		evt := events.New(events.DocumentImported, map[string]interface{}{
			"document_id": doc.Id.String(),
			"char_length": doc.CharLength,
			"user_id":     userID,
		})
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("DocumentService", "Failed to publish DOCUMENT_IMPORTED", map[string]interface{}{"error": err.Error()})
		}
	}
	return toDocumentResponse(doc), nil
}

func (s *documentReader) find(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) Show(ctx context.Context, id uuid.UUID) (*dto.ShowDocumentResponse, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ShowDocumentResponse{
		DocumentResponse: *toDocumentResponse(doc),
		Content:          doc.Content,
		FlatText:         doc.FlatText,
	}, nil
}

func (s *documentService) List(ctx context.Context, userID string, limit, offset int) ([]*dto.DocumentResponse, error) {
	docs, err := s.repo.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		res = append(res, toDocumentResponse(d))
	}
	return res, nil
}

func (s *documentService) Locate(ctx context.Context, id uuid.UUID, charOffset int) (*dto.LocateResponse, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	pos, err := offset.Locate(doc.Content, charOffset)
	if err != nil {
		return nil, err
	}
	return &dto.LocateResponse{DocumentID: id.String(), Position: pos}, nil
}

func (s *documentService) State(ctx context.Context, id uuid.UUID) (*dto.DocumentStateResponse, error) {
	state, err := s.currentState(ctx, id.String())
	if err != nil {
		return nil, err
	}
	return &dto.DocumentStateResponse{State: state, RoomState: string(s.hub.State(id.String()))}, nil
}

// currentState reads the live replica when the document is active here, and
// the persisted snapshot otherwise.
func (s *documentReader) currentState(ctx context.Context, id string) (shareddoc.State, error) {
	if doc, ok := s.hub.Document(id); ok {
		return doc.State(), nil
	}
	doc, _, err := s.loader.Load(ctx, id)
	if err != nil {
		return shareddoc.State{}, err
	}
	return doc.State(), nil
}

func (s *documentService) Parity(ctx context.Context, id uuid.UUID, req *dto.ParityRequest) (*dto.ParityResponse, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	match := req.CharLength == doc.CharLength && strings.EqualFold(req.Checksum, doc.Checksum)
	if !match {
		s.logger.Error("DocumentService", "Offset parity mismatch", map[string]interface{}{
			"document_id":     id.String(),
			"client_length":   req.CharLength,
			"server_length":   doc.CharLength,
			"client_checksum": req.Checksum,
		})
	}
	return &dto.ParityResponse{Match: match, CharLength: doc.CharLength, Checksum: doc.Checksum}, nil
}
