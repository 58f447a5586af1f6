package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalWhenNoRedis(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "session:abc", "u1", time.Minute))
	ok, err := c.Exists(ctx, "session:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestNewPubSub_LocalRoundTrip(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{LocalPubSubBuf: 4})
	require.NoError(t, err)

	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "relationships:u1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "relationships:u1", "hi"))
	select {
	case msg := <-ch:
		assert.Equal(t, "relationships:u1", msg.Channel)
		assert.Equal(t, "hi", msg.Payload)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message")
	}
}

func TestNewPubSub_CancelClosesBridge(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)

	ch, cancel, err := ps.Subscribe(context.Background(), "x")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("bridged channel not closed")
	}
}
