package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
)

// DefaultMaxDownload bounds how much of an attachment is read.
const DefaultMaxDownload int64 = 25 * 1024 * 1024

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	HTTPClient   *http.Client
	MaxDimension int
	MaxBytes     int64
	MaxDownload  int64
	Logger       *slog.Logger
}

// Fetcher downloads image attachments and prepares them for the model.
type Fetcher struct {
	client      *http.Client
	maxDim      int
	maxBytes    int64
	maxDownload int64
	logger      *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxDownload <= 0 {
		cfg.MaxDownload = DefaultMaxDownload
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client:      cfg.HTTPClient,
		maxDim:      cfg.MaxDimension,
		maxBytes:    cfg.MaxBytes,
		maxDownload: cfg.MaxDownload,
		logger:      cfg.Logger.With("component", "media"),
	}
}

// FetchImage downloads url and prepares it. Unsupported types fail with
// ErrUnsupported before anything is downloaded.
func (f *Fetcher) FetchImage(ctx context.Context, url, mimeType string) (agent.Image, error) {
	if !IsSupported(mimeType) {
		return agent.Image{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	data, err := f.download(ctx, url)
	if err != nil {
		return agent.Image{}, err
	}
	img, err := PrepareImage(data, mimeType, f.maxDim, f.maxBytes)
	if err != nil {
		return agent.Image{}, err
	}
	if len(img.Data) != len(data) {
		f.logger.DebugContext(ctx, "image downscaled", "from_bytes", len(data), "to_bytes", len(img.Data))
	}
	return img, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > f.maxDownload {
		return nil, fmt.Errorf("file too large: more than %d bytes", f.maxDownload)
	}
	return data, nil
}
