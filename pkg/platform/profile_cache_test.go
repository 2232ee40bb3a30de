package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profileAPI stubs just the profile lookup; the embedded interface covers
// the methods the cache never calls.
type profileAPI struct {
	API
	profiles map[string]Profile
	fail     bool
	calls    int
}

func (a *profileAPI) GetUserInfo(ctx context.Context, userID string) (Profile, error) {
	a.calls++
	if a.fail {
		return Profile{}, errors.New("platform unavailable")
	}
	p, ok := a.profiles[userID]
	if !ok {
		return Profile{}, errors.New("no such user")
	}
	return p, nil
}

func TestProfileCacheHitAvoidsRefetch(t *testing.T) {
	api := &profileAPI{profiles: map[string]Profile{
		"u1": {UserID: "u1", Handle: "sam"},
	}}
	cache := NewProfileCache(api, time.Minute)

	p, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "sam", p.Handle)

	_, err = cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls, "second lookup must be served from cache")
}

func TestProfileCacheStaleFallback(t *testing.T) {
	api := &profileAPI{profiles: map[string]Profile{
		"u1": {UserID: "u1", Handle: "sam", Bio: "original"},
	}}
	cache := NewProfileCache(api, time.Minute)

	_, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)

	// Expire the live entry, then make refreshes fail.
	cache.Invalidate("u1")
	api.fail = true

	p, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err, "stale value must mask the refresh failure")
	assert.Equal(t, "original", p.Bio)
}

func TestProfileCacheErrorWithoutStaleValue(t *testing.T) {
	api := &profileAPI{fail: true}
	cache := NewProfileCache(api, time.Minute)

	_, err := cache.Get(context.Background(), "unknown")
	assert.Error(t, err, "no stale value to fall back to")
}
