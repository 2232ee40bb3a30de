package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/perchlabs/perch/pkg/bus"
	"github.com/perchlabs/perch/pkg/config"
	"github.com/perchlabs/perch/pkg/logger"
	"github.com/perchlabs/perch/pkg/memory"
	"github.com/perchlabs/perch/pkg/platform"
	"github.com/perchlabs/perch/pkg/providers"
	"github.com/perchlabs/perch/pkg/store"
	"github.com/perchlabs/perch/pkg/tools"
)

// Orchestrator drives one event from admission to stored reply. Per-event
// flow: dedup admit, self filter, command short circuit, rate check,
// fire-and-forget memory extraction, context assembly, one bounded agent
// turn, reply routing.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	memory   *memory.Engine
	provider providers.Provider
	api      platform.API
	profiles *platform.ProfileCache
	registry *tools.Registry

	botID     string
	botHandle string
	handleRe  *regexp.Regexp
}

func NewOrchestrator(
	cfg *config.Config,
	st *store.Store,
	eng *memory.Engine,
	provider providers.Provider,
	api platform.API,
	profiles *platform.ProfileCache,
	registry *tools.Registry,
) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		memory:    eng,
		provider:  provider,
		api:       api,
		profiles:  profiles,
		registry:  registry,
		botID:     cfg.Platform.BotUserID,
		botHandle: cfg.Platform.BotHandle,
	}
	if o.botHandle != "" {
		o.handleRe = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(o.botHandle) + `\b`)
	}
	return o
}

// HandleEvent is the bus-facing entry point. It never returns an error;
// every failure is terminal for the event and logged.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev bus.InboundEvent) {
	if o.isSelf(ev) {
		logger.DebugCF("agent", "Own event skipped", map[string]any{"event_id": ev.ID})
		return
	}

	admitted, err := o.store.MarkProcessed(ctx, ev.ID, string(ev.Kind), ev.AuthorUserID, time.Now())
	if err != nil {
		logger.ErrorCF("agent", "Dedup admit failed", map[string]any{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
		return
	}
	if !admitted {
		// Duplicate delivery is expected, not an error.
		logger.DebugCF("agent", "Duplicate event skipped", map[string]any{"event_id": ev.ID})
		return
	}

	if ev.Kind == bus.KindGroupInvite {
		o.handleGroupInvite(ctx, ev)
		return
	}

	text := o.stripSelfMentions(ev.Text)
	if text == "" {
		logger.DebugCF("agent", "Empty message after mention strip", map[string]any{"event_id": ev.ID})
		return
	}

	if reply, handled := o.handleCommand(ctx, ev.AuthorUserID, text, ev.ChannelID); handled {
		o.sendReply(ctx, ev, reply, false)
		return
	}

	decision, err := o.store.CheckAndIncrementRate(
		ctx, ev.AuthorUserID, o.cfg.IsExempt(ev.AuthorUserID),
		o.cfg.Rate.MaxPerWindow, o.cfg.RateWindow(), time.Now())
	if err != nil {
		// Degrade open: a broken rate table should not silence the agent.
		logger.ErrorCF("agent", "Rate check failed, allowing message", map[string]any{
			"user_id": ev.AuthorUserID,
			"error":   err.Error(),
		})
		decision = store.RateDecision{Allowed: true}
	}
	if !decision.Allowed {
		notice := fmt.Sprintf("You've hit the message limit for now. Try again after %s.",
			decision.ResetAt.UTC().Format("15:04 MST"))
		o.sendReply(ctx, ev, notice, false)
		return
	}

	o.extractAsync(ev.AuthorUserID, text)

	reply := o.respond(ctx, ev.AuthorUserID, text)
	o.sendReply(ctx, ev, reply, true)
}

// HandleDirect is the console path: same command, rate, memory, and agent
// turn semantics without platform delivery.
func (o *Orchestrator) HandleDirect(ctx context.Context, userID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if reply, handled := o.handleCommand(ctx, userID, text, ""); handled {
		return reply
	}

	decision, err := o.store.CheckAndIncrementRate(
		ctx, userID, o.cfg.IsExempt(userID),
		o.cfg.Rate.MaxPerWindow, o.cfg.RateWindow(), time.Now())
	if err != nil {
		logger.ErrorCF("agent", "Rate check failed, allowing message", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		decision = store.RateDecision{Allowed: true}
	}
	if !decision.Allowed {
		return fmt.Sprintf("You've hit the message limit for now. Try again after %s.",
			decision.ResetAt.UTC().Format("15:04 MST"))
	}

	o.extractAsync(userID, text)

	reply := o.respond(ctx, userID, text)
	if _, err := o.store.AppendMessage(ctx, userID, store.RoleAssistant, reply); err != nil {
		logger.WarnCF("agent", "Failed to store assistant reply", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return reply
}

func (o *Orchestrator) isSelf(ev bus.InboundEvent) bool {
	if o.botID != "" && ev.AuthorUserID == o.botID {
		return true
	}
	return o.botHandle != "" && strings.EqualFold(ev.AuthorHandle, o.botHandle)
}

// stripSelfMentions removes the platform's own-mention markup, both the
// id-addressed form (<@id>) and the plain @handle form.
func (o *Orchestrator) stripSelfMentions(text string) string {
	if o.botID != "" {
		text = strings.ReplaceAll(text, "<@"+o.botID+">", " ")
	}
	if o.handleRe != nil {
		text = o.handleRe.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// extractAsync runs memory extraction off the reply path. Extraction
// failure is logged and never blocks or delays the reply.
func (o *Orchestrator) extractAsync(userID, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := o.memory.Remember(ctx, userID, text); err != nil {
			logger.WarnCF("agent", "Memory extraction failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}()
}

// respond assembles context, stores the user message, and runs the bounded
// agent turn. Every failure degrades to the configured fallback reply.
func (o *Orchestrator) respond(ctx context.Context, userID, text string) string {
	messages := o.assembleContext(ctx, userID, text)

	if _, err := o.store.AppendMessage(ctx, userID, store.RoleUser, text); err != nil {
		logger.WarnCF("agent", "Failed to store user message", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	reply, err := o.runAgentTurn(ctx, messages)
	if err != nil {
		logger.WarnCF("agent", "Agent turn failed, retrying without tools", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		resp, retryErr := o.provider.Complete(ctx, messages, nil)
		if retryErr != nil {
			logger.ErrorCF("agent", "Plain retry failed", map[string]any{
				"user_id": userID,
				"error":   retryErr.Error(),
			})
			return o.cfg.Agent.FallbackReply
		}
		reply = resp.Content
	}

	if strings.TrimSpace(reply) == "" {
		return o.cfg.Agent.FallbackReply
	}
	return reply
}

// assembleContext builds the provider message list: system prompt with
// profile summary and relevant memories, then the stored history, then the
// new user message. When history is empty and a seed message is configured,
// the seed is persisted first so every later turn sees it in causal order.
func (o *Orchestrator) assembleContext(ctx context.Context, userID, text string) []providers.Message {
	system := o.cfg.Agent.SystemPrompt

	if profile, err := o.profiles.Get(ctx, userID); err == nil {
		system += "\n\n" + profileSummary(profile)
	} else {
		logger.WarnCF("agent", "Profile fetch failed, continuing without it", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	relevant, err := o.memory.Relevant(ctx, userID, text, o.cfg.Memory.MaxRelevant)
	if err != nil {
		logger.WarnCF("agent", "Memory lookup failed, continuing without it", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	if block := memory.FormatForPrompt(relevant); block != "" {
		system += "\n\nWhat you remember about this user:\n" + block
	}

	history, err := o.store.History(ctx, userID)
	if err != nil {
		logger.WarnCF("agent", "History load failed, continuing without it", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		history = nil
	}

	if len(history) == 0 && o.cfg.Agent.SeedMessage != "" {
		seed, err := o.store.AppendMessage(ctx, userID, store.RoleAssistant, o.cfg.Agent.SeedMessage)
		if err != nil {
			logger.WarnCF("agent", "Seed message insert failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		} else {
			history = append(history, seed)
		}
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: system})
	for _, m := range history {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, providers.Message{Role: store.RoleUser, Content: text})
	return messages
}

func profileSummary(p platform.Profile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are talking to @%s", p.Handle)
	if p.DisplayName != "" && !strings.EqualFold(p.DisplayName, p.Handle) {
		fmt.Fprintf(&sb, " (%s)", p.DisplayName)
	}
	sb.WriteString(".")
	if p.Bio != "" {
		fmt.Fprintf(&sb, " Bio: %s.", p.Bio)
	}
	fmt.Fprintf(&sb, " Followers: %d, following: %d.", p.FollowerCount, p.FollowingCount)
	return sb.String()
}

// runAgentTurn is bounded to exactly one tool-augmented round trip: one
// completion with the full catalog, at most one batch of tool executions,
// and one final completion whose own tool calls are ignored.
func (o *Orchestrator) runAgentTurn(ctx context.Context, messages []providers.Message) (string, error) {
	catalog := o.registry.Definitions()

	resp, err := o.provider.Complete(ctx, messages, catalog)
	if err != nil {
		return "", err
	}
	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil
	}

	messages = append(messages, assistantToolCallMessage(resp))
	for _, call := range resp.ToolCalls {
		result := o.registry.Execute(ctx, call.Name, call.Arguments)
		messages = append(messages, providers.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    result.ForLLM,
		})
	}

	final, err := o.provider.Complete(ctx, messages, catalog)
	if err != nil {
		return "", err
	}
	if len(final.ToolCalls) > 0 {
		logger.WarnCF("agent", "Tool calls in final round ignored", map[string]any{
			"count": len(final.ToolCalls),
		})
	}
	return final.Content, nil
}

// assistantToolCallMessage reconstructs the wire-shaped assistant entry for
// the tool batch so the follow-up completion sees its own request.
func assistantToolCallMessage(resp *providers.Response) providers.Message {
	raw := make([]providers.RawToolCall, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		raw = append(raw, providers.RawToolCall{
			ID:   call.ID,
			Type: "function",
			Function: &providers.FunctionCall{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: raw}
}

// sendReply routes the outbound reply: direct messages go back as direct
// messages, everything else replies in place. The assistant entry is stored
// only after a successful send so the history never claims an unsent reply.
func (o *Orchestrator) sendReply(ctx context.Context, ev bus.InboundEvent, reply string, storeReply bool) {
	if strings.TrimSpace(reply) == "" {
		return
	}

	var err error
	if ev.Kind == bus.KindDirectMessage {
		_, err = o.api.SendDirectMessage(ctx, reply, ev.AuthorUserID)
	} else {
		_, err = o.api.SendReply(ctx, reply, platform.ReplyOptions{
			ReplyTo:   ev.ID,
			ChannelID: ev.ChannelID,
		})
	}
	if err != nil {
		logger.ErrorCF("agent", "Reply send failed", map[string]any{
			"event_id": ev.ID,
			"user_id":  ev.AuthorUserID,
			"error":    err.Error(),
		})
		return
	}

	logger.InfoCF("agent", "Reply sent", map[string]any{
		"event_id": ev.ID,
		"user_id":  ev.AuthorUserID,
		"kind":     string(ev.Kind),
	})

	if storeReply {
		if _, err := o.store.AppendMessage(ctx, ev.AuthorUserID, store.RoleAssistant, reply); err != nil {
			logger.WarnCF("agent", "Failed to store assistant reply", map[string]any{
				"user_id": ev.AuthorUserID,
				"error":   err.Error(),
			})
		}
	}
}

// handleGroupInvite accepts the invite and greets the group.
func (o *Orchestrator) handleGroupInvite(ctx context.Context, ev bus.InboundEvent) {
	if ev.ChannelID == "" {
		logger.WarnCF("agent", "Group invite without group id skipped", map[string]any{"event_id": ev.ID})
		return
	}
	if err := o.api.JoinGroup(ctx, ev.ChannelID); err != nil {
		logger.ErrorCF("agent", "Group join failed", map[string]any{
			"group_id": ev.ChannelID,
			"error":    err.Error(),
		})
		return
	}
	logger.InfoCF("agent", "Joined group", map[string]any{"group_id": ev.ChannelID})

	greeting := "Hi everyone! Thanks for the invite. Mention me if you need anything."
	if _, err := o.api.SendReply(ctx, greeting, platform.ReplyOptions{ChannelID: ev.ChannelID}); err != nil {
		logger.WarnCF("agent", "Group greeting failed", map[string]any{
			"group_id": ev.ChannelID,
			"error":    err.Error(),
		})
	}
}
