package service

import (
	"context"
	"fmt"

	"annotation-collab-be/internal/persistence"
	"annotation-collab-be/internal/repository/contract"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/google/uuid"
)

// DocumentLoader builds a gated replica from the document row and its last
// persisted snapshot.
type DocumentLoader struct {
	repo  contract.DocumentRepository
	store persistence.SnapshotStore
	tags  shareddoc.TagValidator
	site  string
}

func NewDocumentLoader(repo contract.DocumentRepository, store persistence.SnapshotStore, tags shareddoc.TagValidator, site string) *DocumentLoader {
	return &DocumentLoader{repo: repo, store: store, tags: tags, site: site}
}

func (l *DocumentLoader) Load(ctx context.Context, documentID string) (*shareddoc.Document, string, error) {
	id, err := uuid.Parse(documentID)
	if err != nil {
		return nil, "", ErrInvalidDocumentID
	}
	row, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("load document %s: %w", documentID, err)
	}
	if row == nil {
		return nil, "", ErrDocumentNotFound
	}

	doc := shareddoc.NewDocument(documentID, row.CharLength, l.site, l.tags)
	data, found, err := l.store.Load(ctx, documentID)
	if err != nil {
		return nil, "", fmt.Errorf("load snapshot %s: %w", documentID, err)
	}
	if found {
		if err := doc.Load(data); err != nil {
			return nil, "", err
		}
	}
	return doc, row.Checksum, nil
}
