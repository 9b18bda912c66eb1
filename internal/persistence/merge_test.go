package persistence

import (
	"context"
	"testing"

	"annotation-collab-be/pkg/shareddoc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainStore struct {
	inner *MemoryStore
}

func (s plainStore) Save(ctx context.Context, id string, data []byte) error {
	return s.inner.Save(ctx, id, data)
}

func (s plainStore) Load(ctx context.Context, id string) ([]byte, bool, error) {
	return s.inner.Load(ctx, id)
}

func highlightSnapshot(site, id string, start, end int) []byte {
	r := shareddoc.NewReplica(site)
	r.AddHighlight(shareddoc.Highlight{ID: id, Start: start, End: end})
	return r.Snapshot()
}

func highlightIDs(t *testing.T, snapshot []byte) []string {
	t.Helper()
	r := shareddoc.NewReplica("check")
	require.NoError(t, r.Load(snapshot))
	var ids []string
	for _, h := range r.Highlights() {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestMergingStoreKeepsOtherWriters(t *testing.T) {
	redisStore, _ := setupRedisStore(t)
	stores := map[string]SnapshotStore{
		"redis":       redisStore,
		"memory":      NewMemoryStore(),
		"load + save": plainStore{inner: NewMemoryStore()},
	}

	for name, inner := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			peer := highlightSnapshot("peer", "h1", 0, 3)
			require.NoError(t, inner.Save(ctx, "doc", peer))

			var handedBack [][]byte
			store := NewMergingStore(inner, shareddoc.MergeSnapshots, func(id string, stored []byte) {
				assert.Equal(t, "doc", id)
				handedBack = append(handedBack, stored)
			})

			local := highlightSnapshot("local", "h2", 4, 6)
			require.NoError(t, store.Save(ctx, "doc", local))

			data, found, err := store.Load(ctx, "doc")
			require.NoError(t, err)
			require.True(t, found)
			assert.ElementsMatch(t, []string{"h1", "h2"}, highlightIDs(t, data))
			require.Len(t, handedBack, 1)
			assert.Equal(t, peer, handedBack[0])

			// Writing the merged state again finds nothing new.
			require.NoError(t, store.Save(ctx, "doc", data))
			assert.Len(t, handedBack, 1)
		})
	}
}

func TestMergingStoreFirstWrite(t *testing.T) {
	called := false
	store := NewMergingStore(NewMemoryStore(), shareddoc.MergeSnapshots, func(string, []byte) { called = true })

	local := highlightSnapshot("local", "h1", 0, 2)
	require.NoError(t, store.Save(context.Background(), "doc", local))

	data, found, err := store.Load(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, local, data)
	assert.False(t, called)
}

func TestMergingStoreReplacesUndecodableSnapshot(t *testing.T) {
	inner := NewMemoryStore()
	require.NoError(t, inner.Save(context.Background(), "doc", []byte{0xff, 0xff}))
	store := NewMergingStore(inner, shareddoc.MergeSnapshots, nil)

	local := highlightSnapshot("local", "h1", 0, 2)
	require.NoError(t, store.Save(context.Background(), "doc", local))

	data, _, err := inner.Load(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, local, data)
}
