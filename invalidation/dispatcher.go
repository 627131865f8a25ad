package invalidation

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Realtime events that invalidate cached queries.
const (
	EventMemberAdded   = "workspace_member_added"
	EventMemberRemoved = "workspace_member_removed"
	EventNewMessage    = "new_message"
	EventCallUpdated   = "call_updated"
)

// Dispatcher turns realtime events into cache invalidations.
type Dispatcher struct {
	cache Cache
}

// NewDispatcher creates a Dispatcher for cache.
func NewDispatcher(cache Cache) *Dispatcher {
	return &Dispatcher{cache: cache}
}

// Handles reports whether event is one the dispatcher reacts to.
func Handles(event string) bool {
	switch event {
	case EventMemberAdded, EventMemberRemoved, EventNewMessage, EventCallUpdated:
		return true
	}
	return false
}

// OnEvent applies the invalidations for one realtime event. Unknown events
// and malformed payloads are ignored.
func (d *Dispatcher) OnEvent(event string, payload []byte) {
	switch event {
	case EventMemberAdded, EventMemberRemoved:
		d.onMembership(event, payload)
	case EventNewMessage:
		d.onNewMessage(payload)
	case EventCallUpdated:
		d.onCallUpdated(payload)
	default:
		log.Debug().Str("event", event).Msg("Ignoring realtime event")
	}
}

func (d *Dispatcher) onMembership(event string, payload []byte) {
	ws := gjson.GetBytes(payload, "workspaceId").String()
	if ws == "" {
		log.Warn().Str("event", event).Msg("Membership event without workspaceId")
		return
	}
	d.cache.Invalidate(WorkspacesKey())
	d.cache.Invalidate(WorkspaceKey(ws))
	d.cache.Invalidate(WorkspaceMembersKey(ws))
	d.cache.Invalidate(WorkspaceChannelsKey(ws))
}

func (d *Dispatcher) onNewMessage(payload []byte) {
	msg := gjson.ParseBytes(payload)
	channelID := firstOf(msg, "channelId", "message.channelId", "channel.id")
	if channelID == "" {
		log.Warn().Msg("new_message event without channelId")
		return
	}
	d.cache.Invalidate(MessagesKey(channelID))
	d.cache.Invalidate(ChannelKey(channelID))

	if msg.Get("channel.type").String() == "dm" {
		d.cache.Invalidate(DMChannelsKey())
		return
	}

	if ws := d.resolveWorkspace(msg, channelID); ws != "" {
		d.cache.Invalidate(WorkspaceChannelsKey(ws))
		d.cache.Invalidate(WorkspaceKey(ws))
	} else {
		log.Debug().Str("channel_id", channelID).Msg("Workspace of channel unknown, invalidating broadly")
		d.cache.Invalidate(allWorkspaceChannelsKey())
		d.cache.Invalidate(allWorkspaceDetailsKey())
	}
	d.cache.Invalidate(WorkspacesKey())
}

// resolveWorkspace finds the workspace a channel belongs to, first from the
// payload, then from cached workspace channel lists.
func (d *Dispatcher) resolveWorkspace(msg gjson.Result, channelID string) string {
	if ws := msg.Get("channel.workspaceId").String(); ws != "" {
		return ws
	}
	for _, e := range d.cache.Entries(allWorkspaceChannelsKey()) {
		if len(e.Key) < 2 || !gjson.ValidBytes(e.Value) {
			continue
		}
		list := gjson.ParseBytes(e.Value)
		if data := list.Get("data"); data.IsArray() {
			list = data
		}
		found := false
		list.ForEach(func(_, ch gjson.Result) bool {
			if ch.Get("id").String() == channelID {
				found = true
				return false
			}
			return true
		})
		if found {
			return e.Key[1]
		}
	}
	return ""
}

// CallUpdate is a normalized call_updated payload.
type CallUpdate struct {
	ID        string
	Status    string
	ChannelID string
}

// NormalizeCallUpdate extracts the call id and status. It reports false for
// payloads missing either.
func NormalizeCallUpdate(payload []byte) (CallUpdate, bool) {
	if !gjson.ValidBytes(payload) {
		return CallUpdate{}, false
	}
	v := gjson.ParseBytes(payload)
	if call := v.Get("call"); call.IsObject() {
		v = call
	}
	u := CallUpdate{
		ID:        firstOf(v, "id", "callId"),
		Status:    v.Get("status").String(),
		ChannelID: v.Get("channelId").String(),
	}
	if u.ID == "" || u.Status == "" {
		return CallUpdate{}, false
	}
	return u, true
}

func (d *Dispatcher) onCallUpdated(payload []byte) {
	call, ok := NormalizeCallUpdate(payload)
	if !ok {
		log.Warn().Str("payload", string(payload)).Msg("Dropping malformed call_updated event")
		return
	}
	d.cache.Invalidate(CallsKey())
	d.cache.Invalidate(CallKey(call.ID))
}

func firstOf(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := v.Get(p); s.Type == gjson.String || s.Type == gjson.Number {
			if str := s.String(); str != "" {
				return str
			}
		}
	}
	return ""
}
