package invalidation_test

import (
	"testing"

	"github.com/habedi/tandem/invalidation"
	"github.com/stretchr/testify/assert"
)

func TestKeyForPath(t *testing.T) {
	tests := []struct {
		path string
		want invalidation.Key
	}{
		{"/workspaces", invalidation.WorkspacesKey()},
		{"/workspaces/w1", invalidation.WorkspaceKey("w1")},
		{"/workspaces/w1/members", invalidation.WorkspaceMembersKey("w1")},
		{"/workspaces/w1/channels?limit=5", invalidation.WorkspaceChannelsKey("w1")},
		{"/channels/dm", invalidation.DMChannelsKey()},
		{"/dm-channels", invalidation.DMChannelsKey()},
		{"/channels/c1", invalidation.ChannelKey("c1")},
		{"/channels/c1/messages", invalidation.MessagesKey("c1")},
		{"/calls", invalidation.CallsKey()},
		{"/calls/k1/", invalidation.CallKey("k1")},
		{"/tasks/t1", invalidation.Key{"path", "/tasks/t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, invalidation.KeyForPath(tt.path))
		})
	}
}

func TestKeyHasPrefix(t *testing.T) {
	k := invalidation.WorkspaceChannelsKey("w1")
	assert.True(t, k.HasPrefix(invalidation.Key{"workspace-channels"}))
	assert.True(t, k.HasPrefix(k))
	assert.False(t, k.HasPrefix(invalidation.Key{"workspace"}))
	assert.False(t, invalidation.WorkspacesKey().HasPrefix(k))
	assert.Equal(t, "workspace-channels/w1", k.String())
}
