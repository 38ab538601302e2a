package discord

import (
	"context"
	"fmt"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/tools/guild"
)

const taskFailedNotice = "Sorry, I tried to run a scheduled task but something went wrong: %v"

// RunTask posts a due scheduled task. Static tasks are sent verbatim;
// dynamic tasks run their content as a prompt with the guild tools.
func (b *Bot) RunTask(ctx context.Context, task cron.Task) error {
	if _, err := b.state.Guild(task.GuildID); err != nil {
		return channels.ErrNotFound(fmt.Sprintf("guild %s not available", task.GuildID), err)
	}
	if _, err := b.state.Channel(task.ChannelID); err != nil {
		return channels.ErrNotFound(fmt.Sprintf("channel %s not available", task.ChannelID), err)
	}

	switch task.Type {
	case cron.TaskStatic:
		return b.deliver(ctx, outbound{ChannelID: task.ChannelID, GuildID: task.GuildID, Text: task.Content})
	case cron.TaskDynamic:
		return b.runDynamicTask(ctx, task)
	}
	return channels.ErrInvalidInput(fmt.Sprintf("unknown task type %q", task.Type), nil)
}

func (b *Bot) runDynamicTask(ctx context.Context, task cron.Task) error {
	caps := agent.NewCapabilities(agent.CapMemory, agent.CapSchedule, agent.CapReact)
	req := agent.Request{
		Entries: []agent.ConversationEntry{{
			Author:    task.CreatedBy,
			Text:      task.Content,
			CreatedAt: task.CreatedAt,
		}},
		System:       b.systemPrompt(task.GuildID, task.ChannelID, nil),
		Capabilities: caps,
		Executor: b.executor(guild.Env{
			GuildID:      task.GuildID,
			ChannelID:    task.ChannelID,
			Requester:    task.CreatedBy,
			Capabilities: caps,
		}),
	}

	reply, err := b.deps.Generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	if reply.Path == agent.PathApology && reply.Err != nil {
		notice := fmt.Sprintf(taskFailedNotice, reply.Err)
		if sendErr := b.deliver(ctx, outbound{ChannelID: task.ChannelID, GuildID: task.GuildID, Text: notice}); sendErr != nil {
			b.logger.WarnContext(ctx, "failed to report task failure", "task_id", task.ID, "error", sendErr)
		}
		return reply.Err
	}
	if reply.Text == "" && len(reply.Artifacts) == 0 {
		b.logger.WarnContext(ctx, "dynamic task produced an empty reply", "task_id", task.ID)
		return nil
	}
	return b.deliver(ctx, outbound{
		ChannelID: task.ChannelID,
		GuildID:   task.GuildID,
		Text:      reply.Text,
		Artifacts: reply.Artifacts,
	})
}
