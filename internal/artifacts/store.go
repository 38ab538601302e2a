// Package artifacts resolves files generated by server-side code execution
// into bytes and optionally archives them.
package artifacts

import (
	"context"
	"path"
	"strings"
	"time"
)

// Store keeps archived copies of resolved artifacts.
type Store interface {
	// Exists reports whether key was already archived.
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes obj and returns a URI for logs.
	Put(ctx context.Context, obj Object) (string, error)
	Close() error
}

// Object is one artifact copy headed for a Store.
type Object struct {
	Key      string
	FileID   string
	Filename string
	MimeType string
	Data     []byte
}

// ArchiveKey builds the object key <date>/<file_id>/<filename>. The date is
// the UTC day the artifact was resolved on.
func ArchiveKey(at time.Time, fileID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fileID + extensionForMime("")
	}
	return path.Join(at.UTC().Format("2006-01-02"), fileID, name)
}

// extensionForMime names files the Files API returned without a filename.
func extensionForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/csv":
		return ".csv"
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ".dat"
	}
}
