package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the REST half of the platform connection.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("platform base URL not configured")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s %s request: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s failed: status=%d error=%s", method, path, resp.StatusCode, extractAPIError(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	if len(trimmed) > 500 {
		return trimmed[:500] + "..."
	}
	return trimmed
}

func (c *Client) GetMe(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/v1/accounts/me", nil, &out)
	return out, err
}

func (c *Client) GetUserInfo(ctx context.Context, userID string) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) SendReply(ctx context.Context, text string, opts ReplyOptions) (SentMessage, error) {
	payload := map[string]string{"text": text}
	if opts.ReplyTo != "" {
		payload["in_reply_to_id"] = opts.ReplyTo
	}
	if opts.ChannelID != "" {
		payload["channel_id"] = opts.ChannelID
	}
	var out SentMessage
	err := c.do(ctx, http.MethodPost, "/v1/posts", payload, &out)
	return out, err
}

func (c *Client) SendDirectMessage(ctx context.Context, text, userID string) (SentMessage, error) {
	payload := map[string]string{"text": text, "user_id": userID}
	var out SentMessage
	err := c.do(ctx, http.MethodPost, "/v1/direct_messages", payload, &out)
	return out, err
}

func (c *Client) SearchPosts(ctx context.Context, query string, filters SearchFilters) ([]Post, error) {
	q := url.Values{}
	q.Set("q", query)
	if filters.AuthorUserID != "" {
		q.Set("author_id", filters.AuthorUserID)
	}
	if filters.ChannelID != "" {
		q.Set("channel_id", filters.ChannelID)
	}
	if filters.Limit > 0 {
		q.Set("limit", strconv.Itoa(filters.Limit))
	}
	var out struct {
		Posts []Post `json:"posts"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/search/posts?"+q.Encode(), nil, &out)
	return out.Posts, err
}

func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]Profile, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Users []Profile `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/search/users?"+q.Encode(), nil, &out)
	return out.Users, err
}

func (c *Client) FollowUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/follow", nil, nil)
}

func (c *Client) UnfollowUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/unfollow", nil, nil)
}

func (c *Client) BlockUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/block", nil, nil)
}

func (c *Client) UnblockUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/unblock", nil, nil)
}

func (c *Client) JoinGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(groupID)+"/join", nil, nil)
}

func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(groupID)+"/leave", nil, nil)
}

func (c *Client) GetConversationThread(ctx context.Context, rootID string, maxDepth int) ([]Post, error) {
	q := url.Values{}
	if maxDepth > 0 {
		q.Set("max_depth", strconv.Itoa(maxDepth))
	}
	var out struct {
		Posts []Post `json:"posts"`
	}
	path := "/v1/posts/" + url.PathEscape(rootID) + "/thread"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Posts, err
}
