package memory

import (
	"context"
	"sort"
	"time"

	"annotation-collab-be/internal/entity"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// DocumentRepository keeps documents in process memory for development
// without a database.
type DocumentRepository struct {
	cache *cache.Cache
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{cache: cache.New(cache.NoExpiration, 0)}
}

func (r *DocumentRepository) Create(_ context.Context, doc *entity.Document) error {
	if doc.Id == uuid.Nil {
		doc.Id = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	stored := *doc
	r.cache.Set(doc.Id.String(), &stored, cache.NoExpiration)
	return nil
}

func (r *DocumentRepository) FindByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	if x, found := r.cache.Get(id.String()); found {
		doc := *x.(*entity.Document)
		return &doc, nil
	}
	return nil, nil
}

func (r *DocumentRepository) List(_ context.Context, createdBy string, limit, offset int) ([]*entity.Document, error) {
	var docs []*entity.Document
	for _, item := range r.cache.Items() {
		doc := *item.Object.(*entity.Document)
		if createdBy != "" && doc.CreatedBy != createdBy {
			continue
		}
		docs = append(docs, &doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].Id.String() < docs[j].Id.String()
	})

	if offset >= len(docs) {
		return []*entity.Document{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

func (r *DocumentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.cache.Delete(id.String())
	return nil
}
