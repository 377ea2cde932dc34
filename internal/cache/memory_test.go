package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_GetSetDelete(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, JobSnapshotKey("a"), []byte("one"), time.Minute))
	got, err := c.Get(ctx, JobSnapshotKey("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, c.Delete(ctx, JobSnapshotKey("a")))
	_, err = c.Get(ctx, JobSnapshotKey("a"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_RemoveExpired(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, JobSnapshotKey("old"), []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, JobSnapshotKey("new"), []byte("2"), time.Hour))

	assert.Equal(t, 1, c.removeExpired(time.Now().Add(time.Minute)))

	_, err := c.Get(ctx, JobSnapshotKey("new"))
	assert.NoError(t, err)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("b"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("c"), time.Hour))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryClient_PubSub(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	ch, unsubscribe, err := c.Subscribe(ctx, ProgressChannel("job-1"))
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, ProgressChannel("job-1"), map[string]int{"progress": 40}))
	require.NoError(t, c.Publish(ctx, ProgressChannel("job-2"), map[string]int{"progress": 99}))

	select {
	case msg := <-ch:
		var payload map[string]int
		require.NoError(t, json.Unmarshal(msg, &payload))
		assert.Equal(t, 40, payload["progress"])
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	assert.NoError(t, c.Publish(ctx, ProgressChannel("job-1"), map[string]int{"progress": 60}))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "merge:job:abc", JobSnapshotKey("abc"))
	assert.Equal(t, "merge:progress:abc", ProgressChannel("abc"))
}
