package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/perchlabs/perch/pkg/logger"
)

const helpText = `Here's what I can do:
- Just talk to me and I'll reply.
- help: show this message
- !cc or !clearcontext: clear our conversation history
- !memory or !mem: show what I remember about you
- !clearmemory or !forgetme: forget everything about you
- !remember <text>: ask me to remember something specific
- Tell me to leave a group and I will.`

// handleCommand recognizes the built-in command surface, case-insensitively.
// Commands bypass the completion service entirely; the returned reply
// terminates the event. handled is false when text is not a command.
func (o *Orchestrator) handleCommand(ctx context.Context, userID, text, channelID string) (reply string, handled bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "help":
		return helpText, true

	case "!cc", "!clearcontext":
		if err := o.store.ClearHistory(ctx, userID); err != nil {
			logger.ErrorCF("agent", "Clear history failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			return "Sorry, I couldn't clear the context. Please try again.", true
		}
		return "Context cleared. We're starting fresh.", true

	case "!memory", "!mem":
		memories, err := o.memory.List(ctx, userID)
		if err != nil {
			logger.ErrorCF("agent", "Memory list failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			return "Sorry, I couldn't look up my memories right now.", true
		}
		if len(memories) == 0 {
			return "I don't have any memories about you yet.", true
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Here's what I remember about you (%d):\n", len(memories))
		for _, m := range memories {
			fmt.Fprintf(&sb, "- [%s] %s (importance %d)\n", m.Type, m.Value, m.Importance)
		}
		return strings.TrimSpace(sb.String()), true

	case "!clearmemory", "!forgetme":
		if err := o.memory.Forget(ctx, userID); err != nil {
			logger.ErrorCF("agent", "Memory forget failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			return "Sorry, I couldn't clear my memories. Please try again.", true
		}
		return "Done. I've forgotten everything I knew about you.", true
	}

	if rest, ok := cutCommand(trimmed, "!remember"); ok {
		if rest == "" {
			return "Tell me what to remember: !remember <text>", true
		}
		if _, err := o.memory.RememberManual(ctx, userID, rest); err != nil {
			logger.ErrorCF("agent", "Manual remember failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			return "Sorry, I couldn't store that. Please try again.", true
		}
		return "Got it, I'll remember that.", true
	}

	// Context-dependent group exit: free text asking to leave the group the
	// message came from.
	if strings.Contains(lower, "leave") && strings.Contains(lower, "group") {
		if channelID == "" {
			return "I can only leave a group when you ask me from inside it.", true
		}
		if err := o.api.LeaveGroup(ctx, channelID); err != nil {
			logger.ErrorCF("agent", "Group leave failed", map[string]any{
				"group_id": channelID,
				"error":    err.Error(),
			})
			return "Sorry, I couldn't leave the group just now.", true
		}
		return "Alright, leaving the group. Bye!", true
	}

	return "", false
}

// cutCommand matches a "!command rest" prefix case-insensitively and
// returns the trimmed rest.
func cutCommand(text, command string) (string, bool) {
	if len(text) < len(command) {
		return "", false
	}
	if !strings.EqualFold(text[:len(command)], command) {
		return "", false
	}
	rest := text[len(command):]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
