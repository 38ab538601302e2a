package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/providers"
	"github.com/haasonsaas/quill/internal/artifacts"
	"github.com/haasonsaas/quill/internal/channels/discord"
	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/guilds"
	"github.com/haasonsaas/quill/internal/media"
	"github.com/haasonsaas/quill/internal/memory"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/persona"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools"
)

// server owns every long-lived component of a running bot.
type server struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics *observability.Metrics
	tracer  *observability.Tracer

	backend   storage.Backend
	archive   artifacts.Store
	persona   *persona.Persona
	scheduler *cron.Scheduler
	bot       *discord.Bot

	httpServer   *http.Server
	httpListener net.Listener
}

// newServer wires the components described by cfg. Nothing connects to
// Discord until Start.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (s *server, err error) {
	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	s = &server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.close(context.WithoutCancel(ctx))
		}
	}()

	s.metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	tracer, terr := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "quill",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if terr != nil {
		logger.Warn("tracing disabled", "error", terr)
	}
	s.tracer = tracer

	s.backend, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return s, fmt.Errorf("open storage: %w", err)
	}
	memories, err := memory.NewStore(ctx, memory.StoreConfig{Backend: s.backend, Logger: logger})
	if err != nil {
		return s, fmt.Errorf("load memories: %w", err)
	}
	settings, err := guilds.NewStore(ctx, guilds.StoreConfig{Backend: s.backend, Logger: logger})
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	s.scheduler, err = cron.NewScheduler(ctx, cfg.Scheduler, s.backend,
		cron.WithLogger(logger),
		cron.WithMetrics(s.metrics),
		cron.WithTracer(s.tracer),
		cron.WithLocation(loc),
	)
	if err != nil {
		return s, fmt.Errorf("load scheduled tasks: %w", err)
	}

	s.persona, err = persona.Load(cfg.Bot.PersonaPath, logger)
	if err != nil {
		return s, fmt.Errorf("load persona: %w", err)
	}

	anthropic, err := providers.NewAnthropic(providers.AnthropicConfig{
		APIKey:           cfg.LLM.Anthropic.APIKey,
		BaseURL:          cfg.LLM.Anthropic.BaseURL,
		Model:            cfg.LLM.Anthropic.Model,
		MaxTokens:        cfg.LLM.Anthropic.MaxTokens,
		ThinkingBudget:   cfg.LLM.Anthropic.ThinkingBudget,
		WebSearch:        cfg.LLM.Anthropic.WebSearch,
		WebSearchMaxUses: cfg.LLM.Anthropic.WebSearchMaxUses,
		WebFetch:         cfg.LLM.Anthropic.WebFetch,
		WebFetchMaxUses:  cfg.LLM.Anthropic.WebFetchMaxUses,
		CodeExecution:    cfg.LLM.Anthropic.CodeExecution,
		MaxRetries:       cfg.LLM.Anthropic.MaxRetries,
		RequestTimeout:   cfg.LLM.Anthropic.RequestTimeout,
		Logger:           logger,
		Metrics:          s.metrics,
	})
	if err != nil {
		return s, err
	}
	plain, err := newPlainGenerator(ctx, cfg.LLM, anthropic, logger, s.metrics)
	if err != nil {
		return s, err
	}

	s.archive, err = openArchive(ctx, cfg.Artifacts)
	if err != nil {
		return s, err
	}
	collector := artifacts.NewCollector(artifacts.CollectorConfig{
		Source:   anthropic,
		MaxBytes: cfg.Artifacts.MaxBytes,
		Archive:  s.archive,
		Logger:   logger,
		Metrics:  s.metrics,
	})

	generator := agent.NewGenerator(agent.GeneratorConfig{
		Driver:    anthropic,
		Plain:     plain,
		Artifacts: collector,
		Limits: agent.Limits{
			MaxContinuations: cfg.LLM.MaxContinuations,
			MaxToolRounds:    cfg.LLM.MaxToolRounds,
		},
		Apology: cfg.Bot.Apology,
		Logger:  logger,
		Metrics: s.metrics,
		Tracer:  s.tracer,
	})

	registry, err := tools.NewRegistry(tools.RegistryConfig{Logger: logger, Metrics: s.metrics})
	if err != nil {
		return s, fmt.Errorf("build tool registry: %w", err)
	}

	s.bot, err = discord.New(discord.Config{
		Token:                cfg.Discord.Token,
		AppID:                cfg.Discord.AppID,
		CommandGuildID:       cfg.Discord.GuildID,
		HistoryLimit:         cfg.Discord.HistoryLimit,
		RateLimit:            cfg.Discord.RateLimit,
		RateBurst:            cfg.Discord.RateBurst,
		MaxReconnectAttempts: cfg.Discord.MaxReconnectAttempts,
		RootUser:             cfg.Discord.RootUser,
		MaxFiles:             cfg.Artifacts.MaxFiles,
		TokenBudget:          tokenBudget(cfg.LLM),
		Location:             loc,
	}, discord.Deps{
		Generator: generator,
		Tools:     registry,
		Counter:   anthropic,
		Persona:   s.persona,
		Memory:    memories,
		Settings:  settings,
		Scheduler: s.scheduler,
		Images: media.NewFetcher(media.FetcherConfig{
			MaxDimension: media.DefaultMaxDimension,
			MaxBytes:     media.DefaultMaxBytes,
			Logger:       logger,
		}),
		Logger:  logger,
		Metrics: s.metrics,
		Tracer:  s.tracer,
	})
	if err != nil {
		return s, fmt.Errorf("create discord bot: %w", err)
	}
	s.scheduler.SetRunner(s.bot)
	return s, nil
}

// tokenBudget is the input budget left once the reply and a safety margin
// are reserved.
func tokenBudget(cfg config.LLMConfig) int {
	budget := cfg.ContextWindow - cfg.Anthropic.MaxTokens - cfg.SafetyMargin
	if budget < 0 {
		return 0
	}
	return budget
}

func newPlainGenerator(ctx context.Context, cfg config.LLMConfig, fallback *providers.Anthropic, logger *slog.Logger, metrics *observability.Metrics) (agent.PlainGenerator, error) {
	switch cfg.PlainProvider {
	case "openai":
		p, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			MaxTokens:  cfg.OpenAI.MaxTokens,
			MaxRetries: cfg.OpenAI.MaxRetries,
			Logger:     logger,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p, err := providers.NewGemini(ctx, providers.GeminiConfig{
			APIKey:     cfg.Gemini.APIKey,
			BaseURL:    cfg.Gemini.BaseURL,
			Model:      cfg.Gemini.Model,
			MaxTokens:  cfg.Gemini.MaxTokens,
			MaxRetries: cfg.Gemini.MaxRetries,
			Logger:     logger,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return fallback, nil
}

// openArchive returns nil when archiving is off.
func openArchive(ctx context.Context, cfg config.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Archive {
	case config.ArchiveLocal:
		store, err := artifacts.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local artifact archive: %w", err)
		}
		return store, nil
	case config.ArchiveS3:
		store, err := artifacts.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 artifact archive: %w", err)
		}
		return store, nil
	}
	return nil, nil
}

// Start connects to Discord and starts the background loops.
func (s *server) Start(ctx context.Context) error {
	if err := s.startHTTPServer(); err != nil {
		return err
	}
	if s.cfg.Bot.WatchPersona {
		if err := s.persona.Watch(ctx, 0); err != nil {
			s.logger.Warn("persona hot reload disabled", "error", err)
		}
	}
	if err := s.bot.Start(ctx); err != nil {
		return err
	}
	return s.scheduler.Start(ctx)
}

// Stop shuts components down in reverse order of Start.
func (s *server) Stop(ctx context.Context) error {
	var errs []error
	if err := s.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := s.bot.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop discord: %w", err))
	}
	s.close(ctx)
	return errors.Join(errs...)
}

// close releases whatever newServer managed to open.
func (s *server) close(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if s.persona != nil {
		_ = s.persona.Close()
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Warn("artifact archive close failed", "error", err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("storage close failed", "error", err)
		}
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.logger.Warn("tracer shutdown failed", "error", err)
	}
}

func (s *server) startHTTPServer() error {
	addr := s.cfg.Metrics.Addr
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "addr", addr)
	return nil
}
