package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), s
}

func TestSnapshotStores(t *testing.T) {
	redisStore, _ := setupRedisStore(t)
	stores := map[string]SnapshotStore{
		"redis":  redisStore,
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := store.Load(ctx, "doc-1")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, store.Save(ctx, "doc-1", []byte{0x0a, 0x01, 0x00}))
			require.NoError(t, store.Save(ctx, "doc-1", []byte{0x0a, 0x02}))

			data, found, err := store.Load(ctx, "doc-1")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte{0x0a, 0x02}, data)
		})
	}
}

func TestRedisStoreKey(t *testing.T) {
	store, s := setupRedisStore(t)
	require.NoError(t, store.Save(context.Background(), "abc", []byte("state")))

	got, err := s.Get("annotation:snapshot:abc")
	require.NoError(t, err)
	assert.Equal(t, "state", got)
}

func TestChecksumIsStable(t *testing.T) {
	assert.Equal(t, checksum([]byte("state")), checksum([]byte("state")))
	assert.NotEqual(t, checksum([]byte("state")), checksum([]byte("state2")))
	assert.Len(t, checksum(nil), 64)
}
