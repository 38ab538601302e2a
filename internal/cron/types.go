package cron

import (
	"context"
	"time"
)

// TaskType identifies how a scheduled task is delivered.
type TaskType string

const (
	// TaskStatic posts its content verbatim.
	TaskStatic TaskType = "static"
	// TaskDynamic runs its content as a prompt through the model.
	TaskDynamic TaskType = "dynamic"
)

// Task is a one-shot message scheduled into a guild channel.
type Task struct {
	ID          string    `json:"id"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	ExecuteAt   time.Time `json:"execute_at"`
	Type        TaskType  `json:"task_type"`
	Content     string    `json:"content"`
	Reason      string    `json:"reason"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask is the input to Scheduler.Add. When is a human time expression.
type NewTask struct {
	GuildID     string
	ChannelID   string
	ChannelName string
	When        string
	Type        TaskType
	Content     string
	Reason      string
	CreatedBy   string
}

// TaskRunner delivers due tasks.
type TaskRunner interface {
	RunTask(ctx context.Context, task Task) error
}

// TaskRunnerFunc adapts a function to a TaskRunner.
type TaskRunnerFunc func(ctx context.Context, task Task) error

// RunTask executes the runner function.
func (f TaskRunnerFunc) RunTask(ctx context.Context, task Task) error {
	return f(ctx, task)
}
