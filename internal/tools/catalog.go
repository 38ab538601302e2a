// Package tools declares the client-side tools the model may call and
// executes them.
//
// The catalog is fixed at build time. A Registry compiles every tool's
// input schema once at startup; per request, Bind pairs the registry with
// handlers that close over the request's guild and channel and yields an
// agent.ToolExecutor. Executors never return errors: every failure is
// rendered as result text the model can react to.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/quill/internal/agent"
)

// Kind is the closed set of tools.
type Kind int

const (
	KindServerMembers Kind = iota + 1
	KindListChannels
	KindReadChannelHistory
	KindSaveMemory
	KindDeleteMemory
	KindScheduleMessage
	KindListScheduledTasks
	KindCancelScheduledTask
	KindAddReaction
	KindDeleteMessage
)

// Tool names as the model sees them.
const (
	NameServerMembers       = "get_server_members"
	NameListChannels        = "list_channels"
	NameReadChannelHistory  = "read_channel_history"
	NameSaveMemory          = "save_memory"
	NameDeleteMemory        = "delete_memory"
	NameScheduleMessage     = "schedule_message"
	NameListScheduledTasks  = "list_scheduled_tasks"
	NameCancelScheduledTask = "cancel_scheduled_task"
	NameAddReaction         = "add_reaction"
	NameDeleteMessage       = "delete_message"
)

// DefaultStatus is shown for tools without a specific status line.
const DefaultStatus = "Using a tool..."

// Definition declares one tool.
type Definition struct {
	Kind        Kind
	Name        string
	Description string
	// Requires lists the capabilities a request must hold for the tool to
	// be offered at all.
	Requires []agent.Capability
	// Input is a zero value of the input struct; its schema is reflected.
	Input any
	// Status renders the user-facing progress line for a call.
	Status func(input json.RawMessage) string
}

// ServerMembersInput is the input of get_server_members.
type ServerMembersInput struct {
	Filter      string `json:"filter" jsonschema:"enum=all,enum=voice,enum=channel" jsonschema_description:"Filter type: 'all' lists server members, 'voice' lists members in voice channels, 'channel' lists recently active members in a text channel."`
	ChannelName string `json:"channel_name,omitempty" jsonschema_description:"Channel name to filter by. Required when filter is 'channel', optional for 'voice' to check a specific voice channel."`
}

// ListChannelsInput is the input of list_channels.
type ListChannelsInput struct {
	IncludeThreads bool `json:"include_threads,omitempty" jsonschema_description:"Whether to include active threads. Defaults to false."`
}

// ReadChannelHistoryInput is the input of read_channel_history.
type ReadChannelHistoryInput struct {
	ChannelName string `json:"channel_name" jsonschema_description:"Name of the channel or thread to read from."`
	NumMessages int    `json:"num_messages,omitempty" jsonschema_description:"Number of recent messages to fetch (default 25, max 50)."`
}

// SaveMemoryInput is the input of save_memory.
type SaveMemoryInput struct {
	Key     string `json:"key" jsonschema_description:"Short identifier for the memory, e.g. 'alice-birthday'. Saving an existing key overwrites it."`
	Content string `json:"content" jsonschema_description:"The fact to remember (max 500 characters)."`
}

// DeleteMemoryInput is the input of delete_memory.
type DeleteMemoryInput struct {
	Key string `json:"key" jsonschema_description:"Key of the memory to delete."`
}

// ScheduleMessageInput is the input of schedule_message.
type ScheduleMessageInput struct {
	ChannelName string `json:"channel_name" jsonschema_description:"Channel to post in."`
	Time        string `json:"time" jsonschema_description:"When to run, e.g. 'in 2 hours', 'tomorrow at 9am' or '2026-03-01 14:00' (UTC)."`
	TaskType    string `json:"task_type" jsonschema:"enum=static,enum=dynamic" jsonschema_description:"'static' posts content verbatim; 'dynamic' runs content as a prompt at execution time with full tool access."`
	Content     string `json:"content" jsonschema_description:"Message text or prompt."`
	Reason      string `json:"reason" jsonschema_description:"Why this is being scheduled."`
}

// ListScheduledTasksInput is the input of list_scheduled_tasks.
type ListScheduledTasksInput struct{}

// CancelScheduledTaskInput is the input of cancel_scheduled_task.
type CancelScheduledTaskInput struct {
	TaskID string `json:"task_id" jsonschema_description:"ID of the task to cancel."`
}

// AddReactionInput is the input of add_reaction.
type AddReactionInput struct {
	Emoji     string `json:"emoji" jsonschema_description:"Unicode emoji or custom emoji in name:id form."`
	MessageID string `json:"message_id,omitempty" jsonschema_description:"Message to react to. Defaults to the message you are replying to."`
}

// DeleteMessageInput is the input of delete_message.
type DeleteMessageInput struct {
	MessageID   string `json:"message_id" jsonschema_description:"ID of the message to delete."`
	ChannelName string `json:"channel_name,omitempty" jsonschema_description:"Channel containing the message. Defaults to the current channel."`
	Reason      string `json:"reason,omitempty" jsonschema_description:"Moderation reason recorded in the audit log."`
}

// Catalog returns every tool definition in a stable order.
func Catalog() []Definition {
	return []Definition{
		{
			Kind:        KindServerMembers,
			Name:        NameServerMembers,
			Description: "See who is in the Discord server. Can show all members, members in voice channels, or members recently active in a specific channel.",
			Input:       &ServerMembersInput{},
			Status:      serverMembersStatus,
		},
		{
			Kind:        KindListChannels,
			Name:        NameListChannels,
			Description: "List all channels in the Discord server, organized by category. Shows channel types and voice channel occupancy.",
			Input:       &ListChannelsInput{},
			Status:      fixedStatus("Listing server channels..."),
		},
		{
			Kind:        KindReadChannelHistory,
			Name:        NameReadChannelHistory,
			Description: "Read recent messages from a channel or thread in the server.",
			Input:       &ReadChannelHistoryInput{},
			Status:      readHistoryStatus,
		},
		{
			Kind:        KindSaveMemory,
			Name:        NameSaveMemory,
			Description: "Save or update a long-term memory about this server or its members. Memories are included in your context in future conversations.",
			Requires:    []agent.Capability{agent.CapMemory},
			Input:       &SaveMemoryInput{},
			Status:      fixedStatus("Saving a memory..."),
		},
		{
			Kind:        KindDeleteMemory,
			Name:        NameDeleteMemory,
			Description: "Delete a saved memory that is outdated or wrong.",
			Requires:    []agent.Capability{agent.CapMemory},
			Input:       &DeleteMemoryInput{},
			Status:      fixedStatus("Forgetting a memory..."),
		},
		{
			Kind:        KindScheduleMessage,
			Name:        NameScheduleMessage,
			Description: "Schedule a message or a prompt to run later in a channel of this server.",
			Requires:    []agent.Capability{agent.CapSchedule},
			Input:       &ScheduleMessageInput{},
			Status:      fixedStatus("Scheduling a message..."),
		},
		{
			Kind:        KindListScheduledTasks,
			Name:        NameListScheduledTasks,
			Description: "List the scheduled tasks of this server.",
			Requires:    []agent.Capability{agent.CapSchedule},
			Input:       &ListScheduledTasksInput{},
			Status:      fixedStatus("Checking scheduled tasks..."),
		},
		{
			Kind:        KindCancelScheduledTask,
			Name:        NameCancelScheduledTask,
			Description: "Cancel a scheduled task by its ID.",
			Requires:    []agent.Capability{agent.CapSchedule},
			Input:       &CancelScheduledTaskInput{},
			Status:      fixedStatus("Cancelling a scheduled task..."),
		},
		{
			Kind:        KindAddReaction,
			Name:        NameAddReaction,
			Description: "React to a message with an emoji.",
			Requires:    []agent.Capability{agent.CapReact},
			Input:       &AddReactionInput{},
			Status:      fixedStatus("Adding a reaction..."),
		},
		{
			Kind:        KindDeleteMessage,
			Name:        NameDeleteMessage,
			Description: "Delete a message that breaks the server rules. Only use this when moderation is clearly warranted.",
			Requires:    []agent.Capability{agent.CapModerate},
			Input:       &DeleteMessageInput{},
			Status:      fixedStatus("Deleting a message..."),
		},
	}
}

func fixedStatus(text string) func(json.RawMessage) string {
	return func(json.RawMessage) string { return text }
}

func serverMembersStatus(raw json.RawMessage) string {
	var in ServerMembersInput
	_ = json.Unmarshal(raw, &in)
	if in.ChannelName != "" {
		return fmt.Sprintf("Checking who's in #%s...", in.ChannelName)
	}
	if in.Filter == "voice" {
		return "Checking voice channels..."
	}
	return "Checking server members..."
}

func readHistoryStatus(raw json.RawMessage) string {
	var in ReadChannelHistoryInput
	_ = json.Unmarshal(raw, &in)
	channel := in.ChannelName
	if channel == "" {
		channel = "unknown"
	}
	return fmt.Sprintf("Reading history from #%s...", channel)
}
