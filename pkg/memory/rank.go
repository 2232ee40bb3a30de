package memory

import (
	"sort"
	"strings"

	"github.com/perchlabs/perch/pkg/store"
)

// Rank orders memories by relevance to currentText and returns the top
// limit entries. Score is textOverlap(value, currentText) × importance;
// ties break by recency. An empty currentText falls back to
// importance-then-recency over all memories.
func Rank(memories []store.Memory, currentText string, limit int) []store.Memory {
	if limit <= 0 || len(memories) == 0 {
		return nil
	}

	ranked := make([]store.Memory, len(memories))
	copy(ranked, memories)

	currentText = strings.TrimSpace(currentText)
	if currentText == "" {
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Importance != ranked[j].Importance {
				return ranked[i].Importance > ranked[j].Importance
			}
			return ranked[i].UpdatedAt.After(ranked[j].UpdatedAt)
		})
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		return ranked
	}

	queryWords := splitWords(currentText)
	scores := make(map[string]float64, len(ranked))
	for _, m := range ranked {
		scores[m.Key] = textOverlap(m.Value, queryWords) * float64(m.Importance)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].Key], scores[ranked[j].Key]
		if si != sj {
			return si > sj
		}
		return ranked[i].UpdatedAt.After(ranked[j].UpdatedAt)
	})

	out := make([]store.Memory, 0, limit)
	for _, m := range ranked {
		if scores[m.Key] <= 0 {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

// textOverlap is the fraction of the memory's distinct words that match a
// word of the current message by symmetric substring containment,
// case-insensitive. Single-character words are ignored as noise.
func textOverlap(value string, queryWords []string) float64 {
	memWords := splitWords(value)
	if len(memWords) == 0 {
		return 0
	}

	matched := 0
	for _, mw := range memWords {
		for _, qw := range queryWords {
			if strings.Contains(qw, mw) || strings.Contains(mw, qw) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(memWords))
}

func splitWords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	seen := map[string]struct{}{}
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()[]")
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
