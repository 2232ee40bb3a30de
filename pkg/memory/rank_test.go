package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/pkg/store"
)

func mem(key, value string, importance int, updated time.Time) store.Memory {
	return store.Memory{
		UserID:     "u1",
		Key:        key,
		Value:      value,
		Type:       TypeFact,
		Importance: importance,
		CreatedAt:  updated,
		UpdatedAt:  updated,
	}
}

func TestRankPrefersOverlapTimesImportance(t *testing.T) {
	now := time.Now()
	memories := []store.Memory{
		mem("fact:paris", "lives in Paris", 5, now),
		mem("preference:coffee", "likes coffee", 9, now),
	}

	ranked := Rank(memories, "where should I get coffee?", 5)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "preference:coffee", ranked[0].Key)
}

func TestRankExcludesZeroOverlap(t *testing.T) {
	now := time.Now()
	memories := []store.Memory{
		mem("fact:paris", "lives in Paris", 10, now),
		mem("preference:coffee", "likes coffee", 2, now),
	}

	ranked := Rank(memories, "coffee recommendations please", 5)
	require.Len(t, ranked, 1)
	assert.Equal(t, "preference:coffee", ranked[0].Key)
}

func TestRankEmptyQueryFallsBackToImportance(t *testing.T) {
	now := time.Now()
	memories := []store.Memory{
		mem("fact:a", "alpha", 3, now),
		mem("fact:b", "beta", 9, now.Add(-time.Hour)),
		mem("fact:c", "gamma", 9, now),
	}

	ranked := Rank(memories, "", 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "fact:c", ranked[0].Key, "importance ties break by recency")
	assert.Equal(t, "fact:b", ranked[1].Key)
}

func TestRankRecencyTiebreak(t *testing.T) {
	now := time.Now()
	memories := []store.Memory{
		mem("fact:old", "enjoys tea", 5, now.Add(-time.Hour)),
		mem("fact:new", "enjoys tea", 5, now),
	}

	ranked := Rank(memories, "do I like tea?", 5)
	require.Len(t, ranked, 2)
	assert.Equal(t, "fact:new", ranked[0].Key)
}

func TestRankLimitAndEmptyInput(t *testing.T) {
	now := time.Now()
	memories := []store.Memory{
		mem("fact:a", "likes tea", 5, now),
		mem("fact:b", "drinks tea daily", 5, now),
		mem("fact:c", "tea with milk", 5, now),
	}

	assert.Len(t, Rank(memories, "tea", 2), 2)
	assert.Nil(t, Rank(nil, "tea", 2))
	assert.Nil(t, Rank(memories, "tea", 0))
}

func TestTextOverlapSymmetricContainment(t *testing.T) {
	// "coffees" in the query contains the memory word "coffee".
	score := textOverlap("coffee", splitWords("best coffees in town"))
	assert.Equal(t, 1.0, score)

	// Memory word containing the query word also counts.
	score = textOverlap("snowboarding", splitWords("do you snowboard"))
	assert.Equal(t, 1.0, score)

	assert.Zero(t, textOverlap("quantum physics", splitWords("lunch plans")))
}
