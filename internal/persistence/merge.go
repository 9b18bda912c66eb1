package persistence

import (
	"bytes"
	"context"
	"errors"
)

// MergeFunc combines a stored snapshot with the one being written.
type MergeFunc func(stored, incoming []byte) ([]byte, error)

// Updater is implemented by stores that can read, modify and write one
// snapshot atomically.
type Updater interface {
	Update(ctx context.Context, documentID string, fn func(stored []byte, found bool) ([]byte, error)) error
}

// MergingStore folds whatever is already stored into every write, for
// deployments where several instances persist the same document. onStored
// receives stored state that the written snapshot did not contain.
type MergingStore struct {
	SnapshotStore
	merge    MergeFunc
	onStored func(documentID string, stored []byte)
}

func NewMergingStore(store SnapshotStore, merge MergeFunc, onStored func(documentID string, stored []byte)) *MergingStore {
	return &MergingStore{SnapshotStore: store, merge: merge, onStored: onStored}
}

func (s *MergingStore) Save(ctx context.Context, documentID string, data []byte) error {
	var missed []byte
	combine := func(stored []byte, found bool) ([]byte, error) {
		missed = nil
		if !found || bytes.Equal(stored, data) {
			return data, nil
		}
		merged, err := s.merge(stored, data)
		if err != nil {
			// An undecodable stored snapshot is replaced.
			return data, nil
		}
		if !bytes.Equal(merged, data) {
			missed = stored
		}
		return merged, nil
	}

	var err error
	if u, ok := s.SnapshotStore.(Updater); ok {
		err = u.Update(ctx, documentID, combine)
	} else {
		err = s.loadAndSave(ctx, documentID, combine)
	}
	if err != nil {
		return err
	}
	if missed != nil && s.onStored != nil {
		s.onStored(documentID, missed)
	}
	return nil
}

func (s *MergingStore) loadAndSave(ctx context.Context, documentID string, fn func([]byte, bool) ([]byte, error)) error {
	stored, found, err := s.SnapshotStore.Load(ctx, documentID)
	switch {
	case errors.Is(err, ErrCorruptSnapshot):
		found = false
	case err != nil:
		return err
	}
	data, err := fn(stored, found)
	if err != nil {
		return err
	}
	return s.SnapshotStore.Save(ctx, documentID, data)
}
