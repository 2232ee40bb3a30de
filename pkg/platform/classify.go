package platform

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/perchlabs/perch/pkg/bus"
)

// frame is the envelope the stream delivers for every occurrence.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type framePayload struct {
	ID     string `json:"id"`
	Author struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"author"`
	Text        string    `json:"text"`
	ChannelID   string    `json:"channel_id"`
	InReplyToID string    `json:"in_reply_to_id"`
	GroupID     string    `json:"group_id"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// ClassifyFrame converts one raw frame into a typed inbound event using the
// frame's declared type and nested payload shape. Unrecognized shapes are
// classified as generic notifications and still delivered; nothing is
// silently dropped.
func ClassifyFrame(data []byte) (bus.InboundEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return bus.InboundEvent{}, err
	}

	var p framePayload
	if len(f.Payload) > 0 {
		// Unparseable payloads still produce a notification event below.
		_ = json.Unmarshal(f.Payload, &p)
	}

	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	ev := bus.InboundEvent{
		ID:           p.ID,
		Kind:         classifyKind(f.Type, p),
		AuthorUserID: p.Author.ID,
		AuthorHandle: p.Author.Handle,
		Text:         p.Text,
		ChannelID:    p.ChannelID,
		InReplyToID:  p.InReplyToID,
		CreatedAt:    p.CreatedAt,
		Raw:          raw,
	}
	if ev.ChannelID == "" && p.GroupID != "" {
		ev.ChannelID = p.GroupID
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return ev, nil
}

func classifyKind(frameType string, p framePayload) bus.EventKind {
	switch strings.ToLower(strings.TrimSpace(frameType)) {
	case "mention":
		return bus.KindMention
	case "reply", "post_reply":
		return bus.KindReply
	case "direct_message", "dm":
		return bus.KindDirectMessage
	case "group_invite":
		return bus.KindGroupInvite
	case "notification":
		// Notifications carry their own nested kind; honor it when it maps
		// onto the closed set.
		switch strings.ToLower(strings.TrimSpace(p.Kind)) {
		case "mention":
			return bus.KindMention
		case "reply":
			return bus.KindReply
		case "direct_message", "dm":
			return bus.KindDirectMessage
		case "group_invite":
			return bus.KindGroupInvite
		}
		return bus.KindNotification
	case "post":
		// Timeline fallback: a post replying to something is a reply, a
		// post that is not addressed to anyone is plain timeline noise.
		if p.InReplyToID != "" {
			return bus.KindReply
		}
		return bus.KindNotification
	default:
		return bus.KindNotification
	}
}
