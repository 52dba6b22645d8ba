package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCache_PutGet(t *testing.T) {
	c := NewSnapshotCache(4, time.Minute)

	_, ok := c.Get("inv-1")
	assert.False(t, ok)

	c.Put("inv-1", []byte(`{"id":"inv-1"}`))
	got, ok := c.Get("inv-1")
	require.True(t, ok)
	assert.Equal(t, `{"id":"inv-1"}`, string(got))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestSnapshotCache_ReturnsCopies(t *testing.T) {
	c := NewSnapshotCache(4, time.Minute)
	data := []byte("abc")
	c.Put("k", data)
	data[0] = 'x'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))

	got[1] = 'y'
	again, _ := c.Get("k")
	assert.Equal(t, "abc", string(again))
}

func TestSnapshotCache_EvictsOldest(t *testing.T) {
	c := NewSnapshotCache(2, time.Minute)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestSnapshotCache_Expires(t *testing.T) {
	c := NewSnapshotCache(2, 20*time.Millisecond)
	c.Put("a", []byte("1"))
	time.Sleep(60 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	c := NewSnapshotCache(0, 0)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
}
