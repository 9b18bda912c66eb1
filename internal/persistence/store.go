package persistence

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"annotation-collab-be/internal/model"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotStore is the durable key/value store behind the manager, keyed by
// document id.
type SnapshotStore interface {
	Save(ctx context.Context, documentID string, data []byte) error
	Load(ctx context.Context, documentID string) ([]byte, bool, error)
}

const (
	redisKeyPrefix   = "annotation:snapshot:"
	maxUpdateRetries = 5
)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, documentID string, data []byte) error {
	return s.rdb.Set(ctx, redisKeyPrefix+documentID, data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, documentID string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+documentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Update runs fn under WATCH and retries when another writer got in between.
func (s *RedisStore) Update(ctx context.Context, documentID string, fn func(stored []byte, found bool) ([]byte, error)) error {
	key := redisKeyPrefix + documentID
	txf := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		found := true
		switch {
		case errors.Is(err, redis.Nil):
			found = false
		case err != nil:
			return err
		}
		data, err := fn(stored, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update snapshot %s: %w", documentID, redis.TxFailedErr)
}

// GormStore keeps snapshots in document_snapshots and verifies a blake2b
// checksum on every load.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *GormStore) Save(ctx context.Context, documentID string, data []byte) error {
	id, err := uuid.Parse(documentID)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", documentID, err)
	}
	return upsertSnapshot(s.db.WithContext(ctx), id, data)
}

func upsertSnapshot(db *gorm.DB, id uuid.UUID, data []byte) error {
	row := model.DocumentSnapshot{
		DocumentId: id,
		Data:       data,
		Checksum:   checksum(data),
		Size:       len(data),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "checksum", "size", "updated_at"}),
	}).Create(&row).Error
}

// Update locks the snapshot row for the duration of fn. A row failing its
// checksum is treated as missing.
func (s *GormStore) Update(ctx context.Context, documentID string, fn func(stored []byte, found bool) ([]byte, error)) error {
	id, err := uuid.Parse(documentID)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", documentID, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.DocumentSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("document_id = ?", id).First(&row).Error
		found := true
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			found = false
		case err != nil:
			return err
		}
		if found && checksum(row.Data) != row.Checksum {
			found = false
		}
		data, err := fn(row.Data, found)
		if err != nil {
			return err
		}
		return upsertSnapshot(tx, id, data)
	})
}

func (s *GormStore) Load(ctx context.Context, documentID string) ([]byte, bool, error) {
	var row model.DocumentSnapshot
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if checksum(row.Data) != row.Checksum {
		return nil, false, fmt.Errorf("%w: document %s", ErrCorruptSnapshot, documentID)
	}
	return row.Data, true, nil
}

// MemoryStore is the no-infrastructure store used in development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Save(_ context.Context, documentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(documentID, append([]byte{}, data...), cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, documentID string) ([]byte, bool, error) {
	v, ok := s.items.Get(documentID)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v.([]byte)...), true, nil
}

func (s *MemoryStore) Update(_ context.Context, documentID string, fn func(stored []byte, found bool) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored []byte
	v, found := s.items.Get(documentID)
	if found {
		stored = append([]byte{}, v.([]byte)...)
	}
	data, err := fn(stored, found)
	if err != nil {
		return err
	}
	s.items.Set(documentID, append([]byte{}, data...), cache.NoExpiration)
	return nil
}
