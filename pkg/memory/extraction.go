package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/perchlabs/perch/pkg/store"
)

// Memory type labels. These are the only values written to memories.mem_type.
const (
	TypePreference   = "preference"
	TypeFact         = "fact"
	TypeConversation = "conversation"
	TypeRelationship = "relationship"
	TypeInterest     = "interest"
	TypeGoal         = "goal"
	TypeExperience   = "experience"
	TypeReminder     = "reminder"
)

var (
	prefRegex     = regexp.MustCompile(`(?i)\b(i (?:really )?(?:like|love|prefer|enjoy|hate|dislike)\b[^.!?\n]{2,140})`)
	factRegex     = regexp.MustCompile(`(?i)\b(i(?: am|'m| work(?: as| at| on)?| live in| have| own| use| run| study| grew up in)\b[^.!?\n]{2,140})`)
	identityRegex = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([A-Za-z0-9 _\-]{2,50})`)
	interestRegex = regexp.MustCompile(`(?i)\b((?:my hobby is|my hobbies are|i(?:'m| am) (?:into|interested in)|i play|i collect|i follow)\b[^.!?\n]{2,140})`)
	relationRegex = regexp.MustCompile(`(?i)\b(my (?:wife|husband|partner|girlfriend|boyfriend|fiance[e]?|mother|mom|father|dad|sister|brother|son|daughter|friend|roommate|boss|coworker|dog|cat)\b[^.!?\n]{0,140})`)
	goalRegex     = regexp.MustCompile(`(?i)\b(i (?:want to|plan to|hope to|aim to|intend to|am (?:planning|trying) to)\b[^.!?\n]{2,140}|my goal is\b[^.!?\n]{2,140})`)
	rememberRegex = regexp.MustCompile(`(?i)\bremember (?:that |this[:,]? )?([^.!?\n]{3,160})`)

	highCueRegex   = regexp.MustCompile(`(?i)\b(remember|never forget|always|must|favorite|favourite|best|worst)\b`)
	mediumCueRegex = regexp.MustCompile(`(?i)\b(really|very|important|love|hate)\b`)
	hedgeCueRegex  = regexp.MustCompile(`(?i)\b(maybe|kind of|sort of|i think|i guess|probably|perhaps)\b`)

	conversationCueRegex = regexp.MustCompile(`(?i)\b(remember|important)\b`)

	whitespaceRegex = regexp.MustCompile(`\s+`)
	keyStripRegex   = regexp.MustCompile(`[^a-z0-9 ]+`)
)

const (
	defaultImportance      = 5
	conversationImportance = 8
	maxKeyLen              = 64
)

type pattern struct {
	re      *regexp.Regexp
	memType string
}

var extractionPatterns = []pattern{
	{prefRegex, TypePreference},
	{identityRegex, TypeFact},
	{factRegex, TypeFact},
	{interestRegex, TypeInterest},
	{relationRegex, TypeRelationship},
	{goalRegex, TypeGoal},
	{rememberRegex, TypeReminder},
}

// Extract derives zero or more candidate memories from a single user
// message. Keys are deterministic functions of the matched text, so
// restating the same fact overwrites rather than duplicates. A message
// containing explicit remember/important language additionally yields one
// timestamp-keyed conversation memory that is never deduplicated.
func Extract(userID, text string) []store.Memory {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	importance := scoreImportance(text)
	now := time.Now()

	out := []store.Memory{}
	seen := map[string]struct{}{}
	add := func(memType, matched string) {
		value := normalizePhrase(matched)
		if value == "" {
			return
		}
		key := memoryKey(memType, value)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, store.Memory{
			UserID:     userID,
			Key:        key,
			Value:      value,
			Type:       memType,
			Importance: importance,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	for _, p := range extractionPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			add(p.memType, m[1])
		}
	}

	if conversationCueRegex.MatchString(text) {
		out = append(out, store.Memory{
			UserID:     userID,
			Key:        fmt.Sprintf("%s:%d", TypeConversation, now.UnixNano()),
			Value:      normalizePhrase(text),
			Type:       TypeConversation,
			Importance: conversationImportance,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	return out
}

// scoreImportance assigns importance by keyword tier over the whole message.
func scoreImportance(text string) int {
	switch {
	case highCueRegex.MatchString(text):
		return 9
	case mediumCueRegex.MatchString(text):
		return 6
	case hedgeCueRegex.MatchString(text):
		return 3
	default:
		return defaultImportance
	}
}

// memoryKey derives the deterministic per-user key for a candidate:
// type prefix plus the normalized, truncated matched text.
func memoryKey(memType, value string) string {
	k := strings.ToLower(value)
	k = keyStripRegex.ReplaceAllString(k, "")
	k = whitespaceRegex.ReplaceAllString(strings.TrimSpace(k), " ")
	if len(k) > maxKeyLen {
		k = strings.TrimSpace(k[:maxKeyLen])
	}
	return memType + ":" + k
}

func normalizePhrase(in string) string {
	in = strings.TrimSpace(in)
	in = strings.Trim(in, " .,!?:;\"'")
	in = whitespaceRegex.ReplaceAllString(in, " ")
	if len(in) < 3 {
		return ""
	}
	if len(in) > 300 {
		in = strings.TrimSpace(in[:300])
	}
	return in
}
