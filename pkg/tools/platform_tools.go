package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/perchlabs/perch/pkg/platform"
)

// resolveUser turns a user reference into a platform identifier. A
// reference with an "@" prefix (or one passed where only a handle makes
// sense) is resolved through a best-effort user search; anything else is
// taken as a direct identifier. Resolution failure is reported as a
// "user not found" error, never raised.
func resolveUser(ctx context.Context, api platform.API, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("user reference is empty")
	}
	if !strings.HasPrefix(ref, "@") {
		return ref, nil
	}

	handle := strings.TrimPrefix(ref, "@")
	profiles, err := api.SearchUsers(ctx, handle, 5)
	if err != nil {
		return "", fmt.Errorf("user not found: %s (lookup failed: %v)", ref, err)
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Handle, handle) {
			return p.UserID, nil
		}
	}
	if len(profiles) > 0 {
		return profiles[0].UserID, nil
	}
	return "", fmt.Errorf("user not found: %s", ref)
}

func userParamSchema(action string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("The user to %s: a platform user id or an @handle", action),
			},
		},
		"required": []string{"user"},
	}
}

// userActionTool covers the follow/unfollow/block/unblock family, which
// differ only in name, description, and the platform call.
type userActionTool struct {
	api         platform.API
	name        string
	description string
	action      func(ctx context.Context, api platform.API, userID string) error
	pastTense   string
}

func (t *userActionTool) Name() string               { return t.name }
func (t *userActionTool) Description() string        { return t.description }
func (t *userActionTool) Parameters() map[string]any { return userParamSchema(t.name) }

func (t *userActionTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	ref, err := stringArg(args, "user")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	userID, err := resolveUser(ctx, t.api, ref)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if err := t.action(ctx, t.api, userID); err != nil {
		return ErrorResult(fmt.Sprintf("%s failed: %v", t.name, err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf("%s %s", t.pastTense, ref))
}

func NewFollowTool(api platform.API) Tool {
	return &userActionTool{
		api:         api,
		name:        "follow_user",
		description: "Follow a user on the platform.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.FollowUser(ctx, id)
		},
		pastTense: "Followed",
	}
}

func NewUnfollowTool(api platform.API) Tool {
	return &userActionTool{
		api:         api,
		name:        "unfollow_user",
		description: "Unfollow a user on the platform.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.UnfollowUser(ctx, id)
		},
		pastTense: "Unfollowed",
	}
}

func NewBlockTool(api platform.API) Tool {
	return &userActionTool{
		api:         api,
		name:        "block_user",
		description: "Block a user. Use only when a user is clearly abusive.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.BlockUser(ctx, id)
		},
		pastTense: "Blocked",
	}
}

func NewUnblockTool(api platform.API) Tool {
	return &userActionTool{
		api:         api,
		name:        "unblock_user",
		description: "Unblock a previously blocked user.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.UnblockUser(ctx, id)
		},
		pastTense: "Unblocked",
	}
}

// SendDMTool sends a direct message to a user.
type SendDMTool struct {
	api platform.API
}

func NewSendDMTool(api platform.API) *SendDMTool { return &SendDMTool{api: api} }

func (t *SendDMTool) Name() string { return "send_dm" }

func (t *SendDMTool) Description() string {
	return "Send a private direct message to a user."
}

func (t *SendDMTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type":        "string",
				"description": "Recipient: a platform user id or an @handle",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The message text to send",
			},
		},
		"required": []string{"user", "text"},
	}
}

func (t *SendDMTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	ref, err := stringArg(args, "user")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	userID, err := resolveUser(ctx, t.api, ref)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if _, err := t.api.SendDirectMessage(ctx, text, userID); err != nil {
		return ErrorResult(fmt.Sprintf("send_dm failed: %v", err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf("Direct message sent to %s", ref))
}

// SearchPostsTool searches platform posts.
type SearchPostsTool struct {
	api platform.API
}

func NewSearchPostsTool(api platform.API) *SearchPostsTool { return &SearchPostsTool{api: api} }

func (t *SearchPostsTool) Name() string { return "search_posts" }

func (t *SearchPostsTool) Description() string {
	return "Search recent posts on the platform by text query."
}

func (t *SearchPostsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchPostsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, err := stringArg(args, "query")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	limit := intArg(args, "limit", 5)

	posts, err := t.api.SearchPosts(ctx, query, platform.SearchFilters{Limit: limit})
	if err != nil {
		return ErrorResult(fmt.Sprintf("search_posts failed: %v", err)).WithError(err)
	}
	if len(posts) == 0 {
		return SuccessResult("No posts found.")
	}

	var sb strings.Builder
	for _, p := range posts {
		fmt.Fprintf(&sb, "@%s: %s\n", p.AuthorHandle, p.Text)
	}
	return SuccessResult(strings.TrimSpace(sb.String()))
}

// groupActionTool covers join_group / leave_group.
type groupActionTool struct {
	api         platform.API
	name        string
	description string
	action      func(ctx context.Context, api platform.API, groupID string) error
	pastTense   string
}

func (t *groupActionTool) Name() string        { return t.name }
func (t *groupActionTool) Description() string { return t.description }

func (t *groupActionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group_id": map[string]any{
				"type":        "string",
				"description": "The group identifier",
			},
		},
		"required": []string{"group_id"},
	}
}

func (t *groupActionTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	groupID, err := stringArg(args, "group_id")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if err := t.action(ctx, t.api, groupID); err != nil {
		return ErrorResult(fmt.Sprintf("%s failed: %v", t.name, err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf("%s group %s", t.pastTense, groupID))
}

func NewJoinGroupTool(api platform.API) Tool {
	return &groupActionTool{
		api:         api,
		name:        "join_group",
		description: "Join a group on the platform.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.JoinGroup(ctx, id)
		},
		pastTense: "Joined",
	}
}

func NewLeaveGroupTool(api platform.API) Tool {
	return &groupActionTool{
		api:         api,
		name:        "leave_group",
		description: "Leave a group on the platform.",
		action: func(ctx context.Context, api platform.API, id string) error {
			return api.LeaveGroup(ctx, id)
		},
		pastTense: "Left",
	}
}

// GetThreadTool fetches a conversation thread for context.
type GetThreadTool struct {
	api platform.API
}

func NewGetThreadTool(api platform.API) *GetThreadTool { return &GetThreadTool{api: api} }

func (t *GetThreadTool) Name() string { return "get_thread" }

func (t *GetThreadTool) Description() string {
	return "Fetch the conversation thread a post belongs to, oldest first."
}

func (t *GetThreadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"post_id": map[string]any{
				"type":        "string",
				"description": "The root or any post id in the thread",
			},
			"max_depth": map[string]any{
				"type":        "integer",
				"description": "Maximum thread depth to fetch (default 10)",
			},
		},
		"required": []string{"post_id"},
	}
}

func (t *GetThreadTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	postID, err := stringArg(args, "post_id")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	maxDepth := intArg(args, "max_depth", 10)

	posts, err := t.api.GetConversationThread(ctx, postID, maxDepth)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get_thread failed: %v", err)).WithError(err)
	}
	if len(posts) == 0 {
		return SuccessResult("Thread is empty.")
	}

	var sb strings.Builder
	for _, p := range posts {
		fmt.Fprintf(&sb, "@%s: %s\n", p.AuthorHandle, p.Text)
	}
	return SuccessResult(strings.TrimSpace(sb.String()))
}

// GetProfileTool looks up a user profile.
type GetProfileTool struct {
	api platform.API
}

func NewGetProfileTool(api platform.API) *GetProfileTool { return &GetProfileTool{api: api} }

func (t *GetProfileTool) Name() string { return "get_profile" }

func (t *GetProfileTool) Description() string {
	return "Look up a user's public profile."
}

func (t *GetProfileTool) Parameters() map[string]any {
	return userParamSchema("look up")
}

func (t *GetProfileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	ref, err := stringArg(args, "user")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	userID, err := resolveUser(ctx, t.api, ref)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	profile, err := t.api.GetUserInfo(ctx, userID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get_profile failed: %v", err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf(
		"@%s (%s)\nBio: %s\nFollowers: %d, Following: %d",
		profile.Handle, profile.DisplayName, profile.Bio, profile.FollowerCount, profile.FollowingCount,
	))
}

// RegisterPlatformTools wires the full platform action catalog into reg.
func RegisterPlatformTools(reg *Registry, api platform.API) {
	reg.Register(NewFollowTool(api))
	reg.Register(NewUnfollowTool(api))
	reg.Register(NewBlockTool(api))
	reg.Register(NewUnblockTool(api))
	reg.Register(NewSendDMTool(api))
	reg.Register(NewSearchPostsTool(api))
	reg.Register(NewJoinGroupTool(api))
	reg.Register(NewLeaveGroupTool(api))
	reg.Register(NewGetThreadTool(api))
	reg.Register(NewGetProfileTool(api))
}
