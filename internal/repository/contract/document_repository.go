package contract

import (
	"context"

	"annotation-collab-be/internal/entity"

	"github.com/google/uuid"
)

// DocumentRepository stores imported documents. FindByID returns nil, nil
// when the document does not exist.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	List(ctx context.Context, createdBy string, limit, offset int) ([]*entity.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
