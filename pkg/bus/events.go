package bus

import "time"

// EventKind is the closed set of platform event classifications.
type EventKind string

const (
	KindMention       EventKind = "mention"
	KindReply         EventKind = "reply"
	KindDirectMessage EventKind = "direct_message"
	KindGroupInvite   EventKind = "group_invite"
	KindNotification  EventKind = "notification"
)

// Kinds lists every event kind, in dispatch-registration order.
func Kinds() []EventKind {
	return []EventKind{KindMention, KindReply, KindDirectMessage, KindGroupInvite, KindNotification}
}

// ValidKind reports whether k belongs to the closed kind set.
func ValidKind(k EventKind) bool {
	switch k {
	case KindMention, KindReply, KindDirectMessage, KindGroupInvite, KindNotification:
		return true
	}
	return false
}

// InboundEvent is a single classified occurrence delivered by the platform.
// Constructed once by the stream layer and treated as immutable afterwards.
type InboundEvent struct {
	ID           string
	Kind         EventKind
	AuthorUserID string
	AuthorHandle string
	Text         string
	ChannelID    string
	InReplyToID  string
	CreatedAt    time.Time
	Raw          map[string]any
}
