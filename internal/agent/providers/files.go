package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/artifacts"
)

// Metadata implements artifacts.FileSource over the Files API.
func (a *Anthropic) Metadata(ctx context.Context, fileID string) (artifacts.FileInfo, error) {
	meta, err := a.client.Beta.Files.GetMetadata(ctx, fileID, anthropic.BetaFileGetMetadataParams{
		Betas: []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI2025_04_14},
	})
	if err != nil {
		return artifacts.FileInfo{}, wrapAnthropicError(err)
	}
	return artifacts.FileInfo{
		ID:        meta.ID,
		Filename:  meta.Filename,
		MimeType:  meta.MimeType,
		SizeBytes: meta.SizeBytes,
	}, nil
}

// Download implements artifacts.FileSource. At most limit bytes are read;
// a longer body fails with artifacts.ErrTooLarge.
func (a *Anthropic) Download(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	resp, err := a.client.Beta.Files.Download(ctx, fileID, anthropic.BetaFileDownloadParams{
		Betas: []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI2025_04_14},
	})
	if err != nil {
		return nil, wrapAnthropicError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &agent.ProviderError{
			Provider: providerAnthropic,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("download %s: unexpected status", fileID),
		}
	}

	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read file %s: %w", fileID, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("anthropic: file %s: %w", fileID, artifacts.ErrTooLarge)
	}
	return data, nil
}
