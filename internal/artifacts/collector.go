package artifacts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/backoff"
	"github.com/haasonsaas/quill/internal/observability"
)

// DefaultMaxBytes is the per-file size ceiling.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// ErrTooLarge is returned by a FileSource whose download exceeds the limit.
var ErrTooLarge = errors.New("artifact exceeds size limit")

// Artifact outcomes recorded in metrics.
const (
	ResultResolved  = "resolved"
	ResultOversized = "oversized"
	ResultFailed    = "failed"

	ResultArchived      = "archived"
	ResultArchiveFailed = "archive_failed"
)

// FileInfo is the metadata of a generated file.
type FileInfo struct {
	ID        string
	Filename  string
	MimeType  string
	SizeBytes int64
}

// FileSource reads generated files from the provider.
type FileSource interface {
	Metadata(ctx context.Context, fileID string) (FileInfo, error)
	// Download returns the file body, failing if it exceeds limit bytes.
	Download(ctx context.Context, fileID string, limit int64) ([]byte, error)
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Source   FileSource
	MaxBytes int64

	// Archive, when set, receives a copy of every resolved artifact.
	Archive Store

	// Attempts bounds download tries per file. Only retryable provider
	// errors are retried.
	Attempts int
	Policy   backoff.Policy

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Collector resolves file IDs to artifacts. It implements
// agent.ArtifactResolver.
type Collector struct {
	source   FileSource
	maxBytes int64
	archive  Store
	attempts int
	policy   backoff.Policy
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Policy == (backoff.Policy{}) {
		cfg.Policy = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{
		source:   cfg.Source,
		maxBytes: cfg.MaxBytes,
		archive:  cfg.Archive,
		attempts: cfg.Attempts,
		policy:   cfg.Policy,
		logger:   cfg.Logger.With("component", "artifacts"),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// Resolve fetches every file concurrently. Oversized or failing files are
// logged and skipped; the result keeps input order among the survivors.
func (c *Collector) Resolve(ctx context.Context, fileIDs []string) []agent.Artifact {
	if c.source == nil || len(fileIDs) == 0 {
		return nil
	}

	slots := make([]*agent.Artifact, len(fileIDs))
	var wg sync.WaitGroup
	for i, id := range fileIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			slots[i] = c.resolveOne(ctx, id)
		}(i, id)
	}
	wg.Wait()

	out := make([]agent.Artifact, 0, len(fileIDs))
	for _, a := range slots {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func (c *Collector) resolveOne(ctx context.Context, fileID string) *agent.Artifact {
	logger := c.logger.With("file_id", fileID)

	info, err := c.source.Metadata(ctx, fileID)
	if err != nil {
		logger.WarnContext(ctx, "artifact metadata failed", "error", err)
		c.metrics.RecordArtifact(ResultFailed)
		return nil
	}
	if info.SizeBytes > c.maxBytes {
		logger.InfoContext(ctx, "skipping oversized artifact", "size_bytes", info.SizeBytes, "max_bytes", c.maxBytes)
		c.metrics.RecordArtifact(ResultOversized)
		return nil
	}

	data, err := backoff.Retry(ctx, c.policy, c.attempts, agent.IsRetryable, func(int) ([]byte, error) {
		return c.source.Download(ctx, fileID, c.maxBytes)
	})
	if err != nil {
		logger.WarnContext(ctx, "artifact download failed", "error", err)
		result := ResultFailed
		if errors.Is(err, ErrTooLarge) {
			result = ResultOversized
		}
		c.metrics.RecordArtifact(result)
		return nil
	}

	filename := info.Filename
	if filename == "" {
		filename = fileID + extensionForMime(info.MimeType)
	}
	artifact := &agent.Artifact{
		FileID:   fileID,
		Filename: filename,
		MimeType: info.MimeType,
		Data:     data,
	}
	c.metrics.RecordArtifact(ResultResolved)
	c.archiveArtifact(ctx, artifact)
	return artifact
}

func (c *Collector) archiveArtifact(ctx context.Context, a *agent.Artifact) {
	if c.archive == nil {
		return
	}
	logger := c.logger.With("file_id", a.FileID)
	key := ArchiveKey(c.now(), a.FileID, a.Filename)
	exists, err := c.archive.Exists(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "artifact archive lookup failed", "key", key, "error", err)
	}
	if exists {
		logger.DebugContext(ctx, "artifact already archived", "key", key)
		return
	}
	ref, err := c.archive.Put(ctx, Object{
		Key:      key,
		FileID:   a.FileID,
		Filename: a.Filename,
		MimeType: a.MimeType,
		Data:     a.Data,
	})
	if err != nil {
		logger.WarnContext(ctx, "artifact archive failed", "error", err)
		c.metrics.RecordArtifact(ResultArchiveFailed)
		return
	}
	c.metrics.RecordArtifact(ResultArchived)
	logger.DebugContext(ctx, "artifact archived", "ref", ref)
}
