package platform

import (
	"context"
	"time"
)

// Profile is a point-in-time snapshot of platform-supplied profile fields.
type Profile struct {
	UserID         string    `json:"user_id"`
	Handle         string    `json:"handle"`
	DisplayName    string    `json:"display_name"`
	Bio            string    `json:"bio"`
	CreatedAt      time.Time `json:"created_at"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	Bot            bool      `json:"bot"`
	Verified       bool      `json:"verified"`
}

// Post is a single platform post, as returned by search and thread lookups.
type Post struct {
	ID           string    `json:"id"`
	AuthorUserID string    `json:"author_user_id"`
	AuthorHandle string    `json:"author_handle"`
	Text         string    `json:"text"`
	ChannelID    string    `json:"channel_id,omitempty"`
	InReplyToID  string    `json:"in_reply_to_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SentMessage is the platform's acknowledgement of an outbound post or DM.
type SentMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyOptions address an outbound reply.
type ReplyOptions struct {
	ReplyTo   string
	ChannelID string
}

// SearchFilters narrow a post search.
type SearchFilters struct {
	AuthorUserID string
	ChannelID    string
	Limit        int
}

// API is the messaging-platform surface the pipeline consumes. All calls
// are fallible remote calls; no retries happen at this layer.
type API interface {
	GetMe(ctx context.Context) (Profile, error)
	GetUserInfo(ctx context.Context, userID string) (Profile, error)
	SendReply(ctx context.Context, text string, opts ReplyOptions) (SentMessage, error)
	SendDirectMessage(ctx context.Context, text, userID string) (SentMessage, error)
	SearchPosts(ctx context.Context, query string, filters SearchFilters) ([]Post, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]Profile, error)
	FollowUser(ctx context.Context, userID string) error
	UnfollowUser(ctx context.Context, userID string) error
	BlockUser(ctx context.Context, userID string) error
	UnblockUser(ctx context.Context, userID string) error
	JoinGroup(ctx context.Context, groupID string) error
	LeaveGroup(ctx context.Context, groupID string) error
	GetConversationThread(ctx context.Context, rootID string, maxDepth int) ([]Post, error)
}
