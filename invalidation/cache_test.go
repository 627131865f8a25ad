package invalidation_test

import (
	"testing"

	"github.com/habedi/tandem/invalidation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_InvalidateByPrefix(t *testing.T) {
	c, err := invalidation.NewLRUCache(16)
	require.NoError(t, err)

	c.Put(invalidation.WorkspacesKey(), []byte(`[]`))
	c.Put(invalidation.WorkspaceKey("w1"), []byte(`{}`))
	c.Put(invalidation.WorkspaceKey("w2"), []byte(`{}`))
	c.Put(invalidation.WorkspaceChannelsKey("w1"), []byte(`[]`))

	c.Invalidate(invalidation.Key{"workspace"})

	_, stale, ok := c.Get(invalidation.WorkspaceKey("w1"))
	require.True(t, ok)
	assert.True(t, stale)
	_, stale, _ = c.Get(invalidation.WorkspaceKey("w2"))
	assert.True(t, stale)

	// "workspace" is a whole-segment prefix, not a string prefix.
	_, stale, _ = c.Get(invalidation.WorkspacesKey())
	assert.False(t, stale)
	_, stale, _ = c.Get(invalidation.WorkspaceChannelsKey("w1"))
	assert.False(t, stale)
}

func TestLRUCache_PutClearsStale(t *testing.T) {
	c, err := invalidation.NewLRUCache(0)
	require.NoError(t, err)

	c.Put(invalidation.CallKey("k1"), []byte(`{"v":1}`))
	c.Invalidate(invalidation.CallsKey())
	c.Invalidate(invalidation.CallKey("k1"))
	_, stale, _ := c.Get(invalidation.CallKey("k1"))
	assert.True(t, stale)

	c.Put(invalidation.CallKey("k1"), []byte(`{"v":2}`))
	v, stale, ok := c.Get(invalidation.CallKey("k1"))
	require.True(t, ok)
	assert.False(t, stale)
	assert.JSONEq(t, `{"v":2}`, string(v))
}

func TestLRUCache_EvictsAndPurges(t *testing.T) {
	c, err := invalidation.NewLRUCache(2)
	require.NoError(t, err)

	c.Put(invalidation.MessagesKey("a"), nil)
	c.Put(invalidation.MessagesKey("b"), nil)
	c.Put(invalidation.MessagesKey("c"), nil)
	assert.Equal(t, 2, c.Len())
	_, _, ok := c.Get(invalidation.MessagesKey("a"))
	assert.False(t, ok)

	assert.Len(t, c.Entries(invalidation.Key{"messages"}), 2)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestDispatcherAgainstLRUCache(t *testing.T) {
	c, err := invalidation.NewLRUCache(16)
	require.NoError(t, err)
	c.Put(invalidation.WorkspaceChannelsKey("w1"), []byte(`[{"id":"c1","name":"general"}]`))
	c.Put(invalidation.WorkspaceKey("w1"), []byte(`{}`))
	c.Put(invalidation.WorkspaceKey("w2"), []byte(`{}`))

	invalidation.NewDispatcher(c).OnEvent(invalidation.EventNewMessage, []byte(`{"channelId":"c1"}`))

	_, stale, _ := c.Get(invalidation.WorkspaceKey("w1"))
	assert.True(t, stale)
	_, stale, _ = c.Get(invalidation.WorkspaceKey("w2"))
	assert.False(t, stale, "resolved workspace must be invalidated precisely")
}
