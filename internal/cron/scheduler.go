package cron

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	robfig "github.com/robfig/cron/v3"

	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/storage"
)

const (
	timeLayout     = "2006-01-02 15:04 UTC"
	previewLength  = 60
	resultSuccess  = "success"
	resultError    = "error"
	resultStale    = "discarded"
	resultNoRunner = "no_runner"
)

// Scheduler stores one-shot tasks and runs them when they come due.
type Scheduler struct {
	cfg     config.SchedulerConfig
	backend storage.Backend
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	runner  TaskRunner
	now     func() time.Time
	loc     *time.Location

	mu      sync.Mutex
	tasks   []Task
	started bool
	cron    *robfig.Cron
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "cron")
		}
	}
}

// WithMetrics records task outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer opens a span per executed task.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithRunner configures the runner that delivers due tasks.
func WithRunner(runner TaskRunner) Option {
	return func(s *Scheduler) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone used for time expressions without one.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewScheduler loads persisted tasks from backend.
func NewScheduler(ctx context.Context, cfg config.SchedulerConfig, backend storage.Backend, opts ...Option) (*Scheduler, error) {
	if backend == nil {
		return nil, errors.New("cron: backend is required")
	}
	defaults := config.DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxTasksPerGuild <= 0 {
		cfg.MaxTasksPerGuild = defaults.MaxTasksPerGuild
	}
	if cfg.MaxHorizon <= 0 {
		cfg.MaxHorizon = defaults.MaxHorizon
	}
	if cfg.MinLead <= 0 {
		cfg.MinLead = defaults.MinLead
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaults.StaleThreshold
	}

	s := &Scheduler{
		cfg:     cfg,
		backend: backend,
		logger:  slog.Default().With("component", "cron"),
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := backend.Load(ctx, storage.DocTasks)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no scheduled tasks found, starting fresh")
	case err != nil:
		return nil, fmt.Errorf("load scheduled tasks: %w", err)
	default:
		if err := json.Unmarshal(data, &s.tasks); err != nil {
			return nil, fmt.Errorf("decode scheduled tasks: %w", err)
		}
		s.logger.Info("loaded scheduled tasks", "count", len(s.tasks))
	}
	return s, nil
}

// SetRunner updates the runner after initialization. The Discord bot
// is built after the scheduler it registers tools against.
func (s *Scheduler) SetRunner(runner TaskRunner) {
	if s == nil || runner == nil {
		return
	}
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
}

// Add validates and stores a new task, returning the result text for the
// model. The error is reserved for persistence failures.
func (s *Scheduler) Add(ctx context.Context, in NewTask) (string, error) {
	now := s.now()
	executeAt, ok := ParseTime(in.When, now.In(s.loc))
	if !ok {
		return fmt.Sprintf("Could not parse time: '%s'. Try 'in 2 hours', 'tomorrow at 9am', or '2026-03-01 14:00'.", in.When), nil
	}
	switch in.Type {
	case TaskStatic, TaskDynamic:
	default:
		return fmt.Sprintf("Error: task_type must be 'static' or 'dynamic' (got '%s').", in.Type), nil
	}

	lead := executeAt.Sub(now)
	if lead < s.cfg.MinLead {
		return fmt.Sprintf("Tasks must be scheduled at least %d minute(s) in the future.", int(s.cfg.MinLead/time.Minute)), nil
	}
	if lead > s.cfg.MaxHorizon {
		return fmt.Sprintf("Tasks cannot be scheduled more than %d days in the future.", int(s.cfg.MaxHorizon/(24*time.Hour))), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countLocked(in.GuildID) >= s.cfg.MaxTasksPerGuild {
		return fmt.Sprintf("This server already has %d scheduled tasks. Cancel some before adding more.", s.cfg.MaxTasksPerGuild), nil
	}

	task := Task{
		ID:          newTaskID(),
		GuildID:     in.GuildID,
		ChannelID:   in.ChannelID,
		ChannelName: in.ChannelName,
		ExecuteAt:   executeAt.UTC(),
		Type:        in.Type,
		Content:     in.Content,
		Reason:      in.Reason,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now.UTC(),
	}
	next := append(append([]Task(nil), s.tasks...), task)
	if err := s.persistLocked(ctx, next); err != nil {
		return "", err
	}
	s.tasks = next
	s.logger.InfoContext(ctx, "task scheduled",
		"task_id", task.ID, "guild_id", task.GuildID, "type", task.Type, "execute_at", task.ExecuteAt)

	kind := "message"
	if task.Type == TaskDynamic {
		kind = "dynamic prompt"
	}
	return fmt.Sprintf("Scheduled %s in #%s for %s (task ID: %s). Reason: %s",
		kind, task.ChannelName, task.ExecuteAt.Format(timeLayout), task.ID, task.Reason), nil
}

// Tasks returns a guild's tasks sorted by execution time. An empty
// guildID returns every task.
func (s *Scheduler) Tasks(guildID string) []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if guildID == "" || t.GuildID == guildID {
			out = append(out, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	return out
}

// List renders a guild's tasks for the model.
func (s *Scheduler) List(guildID string) string {
	tasks := s.Tasks(guildID)
	if len(tasks) == 0 {
		return "No scheduled tasks for this server."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled tasks (%d):", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n- **%s** | %s | %s | #%s | %s (by %s)",
			t.ID, t.ExecuteAt.UTC().Format(timeLayout), t.Type, t.ChannelName, Preview(t.Content), t.CreatedBy)
	}
	return b.String()
}

// Preview shortens task content for listings.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "..."
}

// Cancel removes a task by ID within a guild.
func (s *Scheduler) Cancel(ctx context.Context, guildID, taskID string) (string, error) {
	taskID = strings.TrimSpace(taskID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID != taskID || t.GuildID != guildID {
			continue
		}
		next := make([]Task, 0, len(s.tasks)-1)
		next = append(next, s.tasks[:i]...)
		next = append(next, s.tasks[i+1:]...)
		if err := s.persistLocked(ctx, next); err != nil {
			return "", err
		}
		s.tasks = next
		s.logger.InfoContext(ctx, "task cancelled", "task_id", t.ID, "guild_id", guildID)
		return fmt.Sprintf("Cancelled task %s (was scheduled for %s in #%s).",
			t.ID, t.ExecuteAt.UTC().Format(timeLayout), t.ChannelName), nil
	}
	return fmt.Sprintf("No task found with ID '%s' in this server.", taskID), nil
}

// Start handles tasks that came due while the process was down, then
// polls for due tasks until ctx is cancelled. Calling it again is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Debug("scheduler already started")
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.handleStale(ctx)

	c := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithLogger(cronLogger{s.logger}),
		robfig.WithChain(robfig.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(robfig.Every(s.cfg.PollInterval), robfig.FuncJob(func() {
		s.runDue(ctx)
	}))
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()
	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Stop waits for the poll loop and any running task to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes due tasks immediately and reports how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

func (s *Scheduler) handleStale(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var overdue, stale, remaining []Task
	for _, t := range s.tasks {
		switch {
		case t.ExecuteAt.After(now):
			remaining = append(remaining, t)
		case now.Sub(t.ExecuteAt) <= s.cfg.StaleThreshold:
			overdue = append(overdue, t)
		default:
			stale = append(stale, t)
		}
	}
	for _, t := range stale {
		s.logger.Warn("discarding stale task",
			"task_id", t.ID, "execute_at", t.ExecuteAt, "overdue", now.Sub(t.ExecuteAt).Round(time.Second))
		s.metrics.RecordScheduledTask(string(t.Type), resultStale)
	}
	if len(overdue) > 0 || len(stale) > 0 {
		if err := s.persistLocked(ctx, remaining); err != nil {
			s.logger.Error("failed to persist scheduled tasks", "error", err)
		}
	}
	s.tasks = remaining
	s.mu.Unlock()

	for _, t := range overdue {
		s.logger.Info("executing overdue task", "task_id", t.ID, "execute_at", t.ExecuteAt)
		s.execute(ctx, t)
	}
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due, remaining []Task
	for _, t := range s.tasks {
		if t.ExecuteAt.After(now) {
			remaining = append(remaining, t)
		} else {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		s.mu.Unlock()
		return 0
	}
	if err := s.persistLocked(ctx, remaining); err != nil {
		s.logger.Error("failed to persist scheduled tasks", "error", err)
	}
	s.tasks = remaining
	s.mu.Unlock()

	for _, t := range due {
		s.execute(ctx, t)
	}
	return len(due)
}

func (s *Scheduler) execute(ctx context.Context, task Task) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()

	logger := s.logger.With("task_id", task.ID, "type", task.Type, "channel", task.ChannelName)
	if runner == nil {
		logger.Warn("no task runner configured, dropping task")
		s.metrics.RecordScheduledTask(string(task.Type), resultNoRunner)
		return
	}

	ctx, span := s.tracer.TraceScheduledTask(ctx, task.ID, string(task.Type))
	defer span.End()

	logger.InfoContext(ctx, "executing scheduled task")
	if err := runner.RunTask(ctx, task); err != nil {
		observability.RecordError(span, err)
		logger.ErrorContext(ctx, "scheduled task failed", "error", err)
		s.metrics.RecordScheduledTask(string(task.Type), resultError)
		s.metrics.RecordError("cron", "task")
		return
	}
	s.metrics.RecordScheduledTask(string(task.Type), resultSuccess)
}

func (s *Scheduler) countLocked(guildID string) int {
	n := 0
	for _, t := range s.tasks {
		if t.GuildID == guildID {
			n++
		}
	}
	return n
}

func (s *Scheduler) persistLocked(ctx context.Context, tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scheduled tasks: %w", err)
	}
	if err := s.backend.Save(ctx, storage.DocTasks, data); err != nil {
		return fmt.Errorf("save scheduled tasks: %w", err)
	}
	return nil
}

func newTaskID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:8]
}

// cronLogger routes robfig/cron logging through slog.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
