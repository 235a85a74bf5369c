package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetPutDelete(t *testing.T) {
	m := NewMemory()
	key := EpisodeKey(7)

	_, ok := m.Get(key)
	require.False(t, ok)

	m.Put(key, []byte("snapshot-v1"))
	v, ok := m.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("snapshot-v1"), v)

	m.Put(key, []byte("snapshot-v2"))
	v, ok = m.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("snapshot-v2"), v)

	m.Delete(key)
	_, ok = m.Get(key)
	require.False(t, ok)
}

func TestMemoryIteratePrefixOrdersAscending(t *testing.T) {
	m := NewMemory()
	m.Put(RecentIndexKey(30, 1), nil)
	m.Put(RecentIndexKey(10, 2), nil)
	m.Put(RecentIndexKey(20, 3), nil)
	m.Put(EpisodeKey(99), []byte("unrelated"))

	var order []uint64
	m.IteratePrefix([]byte{'r'}, func(key, _ []byte) bool {
		episodeID := key[9:17]
		_ = episodeID
		order = append(order, decodeBE8(key[1:9]))
		return true
	})
	require.Equal(t, []uint64{10, 20, 30}, order)
}

func decodeBE8(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
