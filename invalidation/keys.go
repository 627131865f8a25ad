package invalidation

import "strings"

// Key identifies a cached query result, e.g. {"workspace-channels", "w1"}.
// A key used for invalidation matches every cached key it is a prefix of.
type Key []string

// HasPrefix reports whether prefix is a leading part of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, p := range prefix {
		if k[i] != p {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	return strings.Join(k, "/")
}

const (
	scopeWorkspaces       = "workspaces"
	scopeWorkspace        = "workspace"
	scopeWorkspaceMembers = "workspace-members"
	scopeWorkspaceChans   = "workspace-channels"
	scopeMessages         = "messages"
	scopeChannel          = "channel"
	scopeDMChannels       = "dm-channels"
	scopeCalls            = "calls"
	scopeCall             = "call"
)

// Query keys for the cached resources realtime events can invalidate.

func WorkspacesKey() Key { return Key{scopeWorkspaces} }
func WorkspaceKey(id string) Key { return Key{scopeWorkspace, id} }
func WorkspaceMembersKey(id string) Key { return Key{scopeWorkspaceMembers, id} }
func WorkspaceChannelsKey(id string) Key { return Key{scopeWorkspaceChans, id} }
func MessagesKey(channelID string) Key { return Key{scopeMessages, channelID} }
func ChannelKey(channelID string) Key { return Key{scopeChannel, channelID} }
func DMChannelsKey() Key { return Key{scopeDMChannels} }
func CallsKey() Key { return Key{scopeCalls} }
func CallKey(id string) Key { return Key{scopeCall, id} }
func allWorkspaceDetailsKey() Key { return Key{scopeWorkspace} }
func allWorkspaceChannelsKey() Key { return Key{scopeWorkspaceChans} }

// KeyForPath maps a REST path to the cache key of its query result. Paths
// with no dedicated key are cached under {"path", <path>}.
func KeyForPath(p string) Key {
	p = strings.SplitN(p, "?", 2)[0]
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "workspaces":
		return WorkspacesKey()
	case len(parts) == 2 && parts[0] == "workspaces":
		return WorkspaceKey(parts[1])
	case len(parts) == 3 && parts[0] == "workspaces" && parts[2] == "members":
		return WorkspaceMembersKey(parts[1])
	case len(parts) == 3 && parts[0] == "workspaces" && parts[2] == "channels":
		return WorkspaceChannelsKey(parts[1])
	case len(parts) == 1 && parts[0] == "dm-channels",
		len(parts) == 2 && parts[0] == "channels" && parts[1] == "dm":
		return DMChannelsKey()
	case len(parts) == 2 && parts[0] == "channels":
		return ChannelKey(parts[1])
	case len(parts) == 3 && parts[0] == "channels" && parts[2] == "messages":
		return MessagesKey(parts[1])
	case len(parts) == 1 && parts[0] == "calls":
		return CallsKey()
	case len(parts) == 2 && parts[0] == "calls":
		return CallKey(parts[1])
	default:
		return Key{"path", "/" + strings.Join(parts, "/")}
	}
}
