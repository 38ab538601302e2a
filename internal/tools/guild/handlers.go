package guild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/tools"
)

const (
	maxMembersListed      = 200
	activityScanLimit     = 50
	defaultHistoryCount   = 25
	maxHistoryCount       = 50
	maxHistoryLineContent = 200
	maxHistoryTotal       = 4000
)

// MemoryStore is the guild memory the memory tools write to.
type MemoryStore interface {
	Save(ctx context.Context, guildID, key, content string) (string, error)
	Delete(ctx context.Context, guildID, key string) (string, error)
}

// TaskStore is the scheduler the task tools drive.
type TaskStore interface {
	Add(ctx context.Context, task cron.NewTask) (string, error)
	List(guildID string) string
	Cancel(ctx context.Context, guildID, taskID string) (string, error)
}

// Deps are the long-lived services behind the tools.
type Deps struct {
	Platform  Platform
	Memory    MemoryStore
	Scheduler TaskStore
	Logger    *slog.Logger
}

// Env describes the request the tools run for.
type Env struct {
	GuildID   string
	ChannelID string
	// MessageID is the message that triggered the request, if any.
	MessageID string
	// Requester is recorded as the creator of scheduled tasks.
	Requester    string
	Capabilities agent.Capabilities
}

type handlerSet struct {
	deps   Deps
	env    Env
	logger *slog.Logger
}

// Handlers binds every tool the deps and granted capabilities allow.
func Handlers(deps Deps, env Env) tools.Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlerSet{
		deps:   deps,
		env:    env,
		logger: logger.With("component", "guild_tools", "guild_id", env.GuildID),
	}

	out := tools.Handlers{}
	if deps.Platform == nil || env.GuildID == "" {
		return out
	}
	out[tools.KindServerMembers] = decode(h.serverMembers)
	out[tools.KindListChannels] = decode(h.listChannels)
	out[tools.KindReadChannelHistory] = decode(h.readChannelHistory)

	caps := env.Capabilities
	if deps.Memory != nil && caps[agent.CapMemory] {
		out[tools.KindSaveMemory] = decode(h.saveMemory)
		out[tools.KindDeleteMemory] = decode(h.deleteMemory)
	}
	if deps.Scheduler != nil && caps[agent.CapSchedule] {
		out[tools.KindScheduleMessage] = decode(h.scheduleMessage)
		out[tools.KindListScheduledTasks] = decode(h.listScheduledTasks)
		out[tools.KindCancelScheduledTask] = decode(h.cancelScheduledTask)
	}
	if caps[agent.CapReact] {
		out[tools.KindAddReaction] = decode(h.addReaction)
	}
	if caps[agent.CapModerate] {
		out[tools.KindDeleteMessage] = decode(h.deleteMessage)
	}
	return out
}

// decode adapts a typed handler to a tools.Handler.
func decode[T any](fn func(context.Context, T) (string, error)) tools.Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in T
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", fmt.Errorf("decode input: %w", err)
		}
		return fn(ctx, in)
	}
}

func (h *handlerSet) snapshot(ctx context.Context) (*Snapshot, error) {
	return h.deps.Platform.Guild(ctx, h.env.GuildID)
}

func (h *handlerSet) serverMembers(ctx context.Context, in tools.ServerMembersInput) (string, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return "", err
	}
	filter := in.Filter
	if filter == "" {
		filter = "all"
	}

	switch filter {
	case "all":
		total := snap.MemberCount
		if total == 0 {
			total = len(snap.Members)
		}
		members := snap.Members
		if len(members) > maxMembersListed {
			members = members[:maxMembersListed]
		}
		lines := make([]string, 0, len(members))
		for _, m := range members {
			var parts []string
			if m.Bot {
				parts = append(parts, "bot")
			}
			if m.VoiceChannelID != "" {
				if vc, ok := snap.ChannelByID(m.VoiceChannelID); ok {
					parts = append(parts, "in voice: #"+vc.Name)
				}
			}
			line := "- " + m.DisplayName
			if len(parts) > 0 {
				line += " (" + strings.Join(parts, ", ") + ")"
			}
			lines = append(lines, line)
		}
		return fmt.Sprintf("Server members (%d shown, %d total):\n%s", len(lines), total, strings.Join(lines, "\n")), nil

	case "voice":
		if in.ChannelName != "" {
			ch, msg := FindChannel(snap, in.ChannelName, ChannelVoice, ChannelStage)
			if msg != "" {
				return msg, nil
			}
			members := snap.VoiceMembers(ch.ID)
			if len(members) == 0 {
				return fmt.Sprintf("No one is in #%s right now.", ch.Name), nil
			}
			lines := make([]string, len(members))
			for i, m := range members {
				lines[i] = "- " + m.DisplayName
			}
			return fmt.Sprintf("Members in #%s:\n%s", ch.Name, strings.Join(lines, "\n")), nil
		}
		var lines []string
		for _, ch := range snap.Channels {
			if ch.Kind != ChannelVoice && ch.Kind != ChannelStage {
				continue
			}
			members := snap.VoiceMembers(ch.ID)
			if len(members) == 0 {
				continue
			}
			names := make([]string, len(members))
			for i, m := range members {
				names[i] = m.DisplayName
			}
			lines = append(lines, fmt.Sprintf("#%s: %s", ch.Name, strings.Join(names, ", ")))
		}
		if len(lines) == 0 {
			return "No one is in any voice channel right now.", nil
		}
		return "Members in voice channels:\n" + strings.Join(lines, "\n"), nil

	case "channel":
		if in.ChannelName == "" {
			return "Error: channel_name is required when filter is 'channel'.", nil
		}
		ch, msg := FindChannel(snap, in.ChannelName, ChannelText, ChannelForum)
		if msg != "" {
			return msg, nil
		}
		messages, err := h.deps.Platform.History(ctx, ch.ID, activityScanLimit)
		if channels.IsForbidden(err) {
			return fmt.Sprintf("I don't have permission to read #%s.", ch.Name), nil
		}
		if err != nil {
			return "", err
		}
		seen := make(map[string]bool)
		var lines []string
		for _, m := range messages {
			if m.AuthorBot || seen[m.AuthorID] {
				continue
			}
			seen[m.AuthorID] = true
			lines = append(lines, "- "+m.AuthorName)
		}
		if len(lines) == 0 {
			return fmt.Sprintf("No recent non-bot activity in #%s.", ch.Name), nil
		}
		return fmt.Sprintf("Recently active members in #%s:\n%s", ch.Name, strings.Join(lines, "\n")), nil
	}
	return fmt.Sprintf("Unknown filter: %s", filter), nil
}

func (h *handlerSet) listChannels(ctx context.Context, in tools.ListChannelsInput) (string, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, cat := range snap.Channels {
		if cat.Kind != ChannelCategory {
			continue
		}
		lines = append(lines, "\n**"+cat.Name+"**")
		for _, ch := range snap.Channels {
			if ch.Kind != ChannelCategory && ch.ParentID == cat.ID {
				lines = append(lines, formatChannel(snap, ch))
			}
		}
	}

	var uncategorized []string
	for _, ch := range snap.Channels {
		if ch.Kind != ChannelCategory && ch.ParentID == "" {
			uncategorized = append(uncategorized, formatChannel(snap, ch))
		}
	}
	if len(uncategorized) > 0 {
		lines = append(lines, "\n**Uncategorized**")
		lines = append(lines, uncategorized...)
	}

	if in.IncludeThreads && len(snap.Threads) > 0 {
		lines = append(lines, "\n**Active Threads**")
		for _, th := range snap.Threads {
			parent := "unknown"
			if p, ok := snap.ChannelByID(th.ParentID); ok {
				parent = p.Name
			}
			lines = append(lines, fmt.Sprintf("  - #%s (thread in #%s)", th.Name, parent))
		}
	}
	return "Server channels:" + strings.Join(lines, "\n"), nil
}

func formatChannel(snap *Snapshot, ch Channel) string {
	switch ch.Kind {
	case ChannelVoice:
		return fmt.Sprintf("  - #%s (voice%s)", ch.Name, occupancy(len(snap.VoiceMembers(ch.ID))))
	case ChannelStage:
		return fmt.Sprintf("  - #%s (stage%s)", ch.Name, occupancy(len(snap.VoiceMembers(ch.ID))))
	case ChannelForum:
		return fmt.Sprintf("  - #%s (forum)", ch.Name)
	default:
		return fmt.Sprintf("  - #%s (text)", ch.Name)
	}
}

func occupancy(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return " — 1 member"
	default:
		return fmt.Sprintf(" — %d members", n)
	}
}

func (h *handlerSet) readChannelHistory(ctx context.Context, in tools.ReadChannelHistoryInput) (string, error) {
	if in.ChannelName == "" {
		return "Error: channel_name is required.", nil
	}
	limit := in.NumMessages
	if limit <= 0 {
		limit = defaultHistoryCount
	}
	if limit > maxHistoryCount {
		limit = maxHistoryCount
	}

	snap, err := h.snapshot(ctx)
	if err != nil {
		return "", err
	}
	ch, msg := FindChannel(snap, in.ChannelName)
	if msg != "" {
		return msg, nil
	}

	ok, err := h.deps.Platform.CanReadHistory(ctx, ch.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("I don't have permission to read message history in #%s.", ch.Name), nil
	}

	messages, err := h.deps.Platform.History(ctx, ch.ID, limit)
	if channels.IsForbidden(err) {
		return fmt.Sprintf("I don't have permission to read #%s.", ch.Name), nil
	}
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return fmt.Sprintf("No recent messages in #%s.", ch.Name), nil
	}

	var lines []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		content := m.Content
		if content == "" {
			content = "[no text]"
		}
		if utf8.RuneCountInString(content) > maxHistoryLineContent {
			content = string([]rune(content)[:maxHistoryLineContent]) + "..."
		}
		line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.UTC().Format("15:04"), m.AuthorName, content)
		total += utf8.RuneCountInString(line)
		if total > maxHistoryTotal {
			lines = append(lines, "... (truncated)")
			break
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("Recent messages in #%s:\n%s", ch.Name, strings.Join(lines, "\n")), nil
}

func (h *handlerSet) saveMemory(ctx context.Context, in tools.SaveMemoryInput) (string, error) {
	return h.deps.Memory.Save(ctx, h.env.GuildID, in.Key, in.Content)
}

func (h *handlerSet) deleteMemory(ctx context.Context, in tools.DeleteMemoryInput) (string, error) {
	return h.deps.Memory.Delete(ctx, h.env.GuildID, in.Key)
}

func (h *handlerSet) scheduleMessage(ctx context.Context, in tools.ScheduleMessageInput) (string, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return "", err
	}
	ch, msg := FindChannel(snap, in.ChannelName, ChannelText, ChannelThread)
	if msg != "" {
		return msg, nil
	}
	return h.deps.Scheduler.Add(ctx, cron.NewTask{
		GuildID:     h.env.GuildID,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		When:        in.Time,
		Type:        cron.TaskType(in.TaskType),
		Content:     in.Content,
		Reason:      in.Reason,
		CreatedBy:   h.env.Requester,
	})
}

func (h *handlerSet) listScheduledTasks(_ context.Context, _ tools.ListScheduledTasksInput) (string, error) {
	return h.deps.Scheduler.List(h.env.GuildID), nil
}

func (h *handlerSet) cancelScheduledTask(ctx context.Context, in tools.CancelScheduledTaskInput) (string, error) {
	return h.deps.Scheduler.Cancel(ctx, h.env.GuildID, in.TaskID)
}

func (h *handlerSet) addReaction(ctx context.Context, in tools.AddReactionInput) (string, error) {
	messageID := in.MessageID
	if messageID == "" {
		messageID = h.env.MessageID
	}
	if messageID == "" {
		return "Error: message_id is required when there is no message to react to.", nil
	}
	emoji := strings.Trim(strings.TrimSpace(in.Emoji), "<>:")
	if emoji == "" {
		return "Error: emoji cannot be empty.", nil
	}
	if err := h.deps.Platform.AddReaction(ctx, h.env.ChannelID, messageID, emoji); err != nil {
		if channels.IsForbidden(err) {
			return "I don't have permission to add reactions here.", nil
		}
		return "", err
	}
	h.logger.InfoContext(ctx, "reaction added", "message_id", messageID, "emoji", emoji)
	return fmt.Sprintf("Reacted with %s.", in.Emoji), nil
}

func (h *handlerSet) deleteMessage(ctx context.Context, in tools.DeleteMessageInput) (string, error) {
	channelID := h.env.ChannelID
	channelName := ""
	if in.ChannelName != "" {
		snap, err := h.snapshot(ctx)
		if err != nil {
			return "", err
		}
		ch, msg := FindChannel(snap, in.ChannelName, ChannelText, ChannelThread, ChannelForum)
		if msg != "" {
			return msg, nil
		}
		channelID, channelName = ch.ID, ch.Name
	}
	if err := h.deps.Platform.DeleteMessage(ctx, channelID, in.MessageID, in.Reason); err != nil {
		switch {
		case channels.IsForbidden(err):
			return "I don't have permission to delete that message.", nil
		case channels.IsNotFound(err):
			return fmt.Sprintf("No message found with ID '%s'.", in.MessageID), nil
		}
		return "", err
	}
	h.logger.InfoContext(ctx, "message deleted",
		"channel_id", channelID, "message_id", in.MessageID, "reason", in.Reason)
	if channelName != "" {
		return fmt.Sprintf("Deleted message %s in #%s.", in.MessageID, channelName), nil
	}
	return fmt.Sprintf("Deleted message %s.", in.MessageID), nil
}
