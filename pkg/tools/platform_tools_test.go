package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/pkg/platform"
)

// fakeAPI records platform calls; the embedded interface panics on anything
// a test did not expect.
type fakeAPI struct {
	platform.API

	users     []platform.Profile
	searchErr error

	followed []string
	blocked  []string
	dms      []string
	left     []string
	joined   []string
}

func (a *fakeAPI) SearchUsers(ctx context.Context, query string, limit int) ([]platform.Profile, error) {
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	return a.users, nil
}

func (a *fakeAPI) FollowUser(ctx context.Context, userID string) error {
	a.followed = append(a.followed, userID)
	return nil
}

func (a *fakeAPI) BlockUser(ctx context.Context, userID string) error {
	a.blocked = append(a.blocked, userID)
	return nil
}

func (a *fakeAPI) SendDirectMessage(ctx context.Context, text, userID string) (platform.SentMessage, error) {
	a.dms = append(a.dms, userID+": "+text)
	return platform.SentMessage{ID: "m1", Text: text, CreatedAt: time.Now()}, nil
}

func (a *fakeAPI) LeaveGroup(ctx context.Context, groupID string) error {
	a.left = append(a.left, groupID)
	return nil
}

func (a *fakeAPI) JoinGroup(ctx context.Context, groupID string) error {
	a.joined = append(a.joined, groupID)
	return nil
}

func (a *fakeAPI) GetUserInfo(ctx context.Context, userID string) (platform.Profile, error) {
	for _, p := range a.users {
		if p.UserID == userID {
			return p, nil
		}
	}
	return platform.Profile{}, errors.New("no such user")
}

func (a *fakeAPI) SearchPosts(ctx context.Context, query string, filters platform.SearchFilters) ([]platform.Post, error) {
	return []platform.Post{
		{ID: "p1", AuthorHandle: "sam", Text: "hello world"},
	}, nil
}

func (a *fakeAPI) GetConversationThread(ctx context.Context, rootID string, maxDepth int) ([]platform.Post, error) {
	return []platform.Post{
		{ID: "p1", AuthorHandle: "sam", Text: "root"},
		{ID: "p2", AuthorHandle: "kim", Text: "reply"},
	}, nil
}

func TestResolveUserDirectID(t *testing.T) {
	api := &fakeAPI{}
	id, err := resolveUser(context.Background(), api, "12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
}

func TestResolveUserHandleExactMatch(t *testing.T) {
	api := &fakeAPI{users: []platform.Profile{
		{UserID: "u9", Handle: "samwise"},
		{UserID: "u1", Handle: "Sam"},
	}}

	id, err := resolveUser(context.Background(), api, "@sam")
	require.NoError(t, err)
	assert.Equal(t, "u1", id, "exact handle match wins over first result")
}

func TestResolveUserHandleFirstResultFallback(t *testing.T) {
	api := &fakeAPI{users: []platform.Profile{
		{UserID: "u9", Handle: "samwise"},
	}}

	id, err := resolveUser(context.Background(), api, "@sam")
	require.NoError(t, err)
	assert.Equal(t, "u9", id)
}

func TestResolveUserNotFound(t *testing.T) {
	api := &fakeAPI{}
	_, err := resolveUser(context.Background(), api, "@ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user not found")
}

func TestFollowToolResolvesHandle(t *testing.T) {
	api := &fakeAPI{users: []platform.Profile{{UserID: "u1", Handle: "sam"}}}
	tool := NewFollowTool(api)

	result := tool.Execute(context.Background(), map[string]any{"user": "@sam"})
	require.False(t, result.IsError, result.ForLLM)
	assert.Equal(t, []string{"u1"}, api.followed)
}

func TestFollowToolUnresolvedHandleIsErrorResult(t *testing.T) {
	api := &fakeAPI{}
	tool := NewFollowTool(api)

	result := tool.Execute(context.Background(), map[string]any{"user": "@ghost"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "user not found")
	assert.Empty(t, api.followed, "no side effect on unresolved user")
}

func TestSendDMTool(t *testing.T) {
	api := &fakeAPI{users: []platform.Profile{{UserID: "u1", Handle: "sam"}}}
	tool := NewSendDMTool(api)

	result := tool.Execute(context.Background(), map[string]any{"user": "@sam", "text": "psst"})
	require.False(t, result.IsError, result.ForLLM)
	require.Len(t, api.dms, 1)
	assert.Equal(t, "u1: psst", api.dms[0])
}

func TestSearchPostsTool(t *testing.T) {
	tool := NewSearchPostsTool(&fakeAPI{})
	result := tool.Execute(context.Background(), map[string]any{"query": "hello"})
	require.False(t, result.IsError)
	assert.Contains(t, result.ForLLM, "@sam: hello world")
}

func TestGroupTools(t *testing.T) {
	api := &fakeAPI{}

	join := NewJoinGroupTool(api)
	result := join.Execute(context.Background(), map[string]any{"group_id": "g1"})
	require.False(t, result.IsError)
	assert.Equal(t, []string{"g1"}, api.joined)

	leave := NewLeaveGroupTool(api)
	result = leave.Execute(context.Background(), map[string]any{"group_id": "g1"})
	require.False(t, result.IsError)
	assert.Equal(t, []string{"g1"}, api.left)
}

func TestGetThreadTool(t *testing.T) {
	tool := NewGetThreadTool(&fakeAPI{})
	result := tool.Execute(context.Background(), map[string]any{"post_id": "p1"})
	require.False(t, result.IsError)
	assert.Contains(t, result.ForLLM, "@sam: root")
	assert.Contains(t, result.ForLLM, "@kim: reply")
}

func TestGetProfileTool(t *testing.T) {
	api := &fakeAPI{users: []platform.Profile{
		{UserID: "u1", Handle: "sam", DisplayName: "Sam", Bio: "bird fan", FollowerCount: 12},
	}}
	tool := NewGetProfileTool(api)

	result := tool.Execute(context.Background(), map[string]any{"user": "u1"})
	require.False(t, result.IsError, result.ForLLM)
	assert.Contains(t, result.ForLLM, "@sam")
	assert.Contains(t, result.ForLLM, "bird fan")
}

func TestRegisterPlatformToolsCatalog(t *testing.T) {
	reg := NewRegistry()
	RegisterPlatformTools(reg, &fakeAPI{})

	assert.Equal(t, []string{
		"block_user", "follow_user", "get_profile", "get_thread",
		"join_group", "leave_group", "search_posts", "send_dm",
		"unblock_user", "unfollow_user",
	}, reg.List())
}
