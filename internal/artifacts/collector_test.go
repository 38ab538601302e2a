package artifacts

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/backoff"
	"github.com/haasonsaas/quill/internal/observability"
)

type fakeFile struct {
	info        FileInfo
	data        []byte
	metaErr     error
	downloadErr []error
}

type fakeSource struct {
	mu        sync.Mutex
	files     map[string]*fakeFile
	downloads map[string]int
}

func newFakeSource(files map[string]*fakeFile) *fakeSource {
	return &fakeSource{files: files, downloads: make(map[string]int)}
}

func (s *fakeSource) Metadata(_ context.Context, id string) (FileInfo, error) {
	f, ok := s.files[id]
	if !ok {
		return FileInfo{}, &agent.ProviderError{Provider: "test", Status: 404, Message: "not found"}
	}
	if f.metaErr != nil {
		return FileInfo{}, f.metaErr
	}
	return f.info, nil
}

func (s *fakeSource) Download(_ context.Context, id string, limit int64) ([]byte, error) {
	s.mu.Lock()
	n := s.downloads[id]
	s.downloads[id]++
	s.mu.Unlock()

	f := s.files[id]
	if n < len(f.downloadErr) && f.downloadErr[n] != nil {
		return nil, f.downloadErr[n]
	}
	if int64(len(f.data)) > limit {
		return nil, ErrTooLarge
	}
	return f.data, nil
}

var fastPolicy = backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

func TestCollectorResolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	source := newFakeSource(map[string]*fakeFile{
		"ok":  {info: FileInfo{ID: "ok", Filename: "chart.png", MimeType: "image/png", SizeBytes: 3}, data: []byte("png")},
		"big": {info: FileInfo{ID: "big", Filename: "huge.bin", SizeBytes: 100}},
		"lying": {
			info: FileInfo{ID: "lying", Filename: "small.txt", SizeBytes: 1},
			data: bytes.Repeat([]byte("x"), 20),
		},
		"broken":   {info: FileInfo{ID: "broken", SizeBytes: 1}, downloadErr: []error{errors.New("connection reset"), nil}},
		"noname":   {info: FileInfo{ID: "noname", MimeType: "text/csv", SizeBytes: 2}, data: []byte("a,")},
		"metafail": {metaErr: errors.New("boom")},
	})

	c := NewCollector(CollectorConfig{Source: source, MaxBytes: 10, Policy: fastPolicy, Metrics: metrics})
	got := c.Resolve(context.Background(), []string{"ok", "big", "lying", "broken", "noname", "metafail", "missing"})

	if len(got) != 2 {
		t.Fatalf("resolved %d artifacts, want 2: %+v", len(got), got)
	}
	if got[0].FileID != "ok" || got[0].Filename != "chart.png" || string(got[0].Data) != "png" {
		t.Errorf("first artifact = %+v", got[0])
	}
	if got[1].Filename != "noname.csv" {
		t.Errorf("fallback filename = %q, want noname.csv", got[1].Filename)
	}
	if source.downloads["big"] != 0 {
		t.Error("oversized file should not be downloaded")
	}
	if source.downloads["broken"] != 1 {
		t.Errorf("non-retryable error retried %d times", source.downloads["broken"])
	}

	if v := testutil.ToFloat64(metrics.ArtifactCounter.WithLabelValues(ResultResolved)); v != 2 {
		t.Errorf("resolved metric = %v", v)
	}
	if v := testutil.ToFloat64(metrics.ArtifactCounter.WithLabelValues(ResultOversized)); v != 2 {
		t.Errorf("oversized metric = %v", v)
	}
	if v := testutil.ToFloat64(metrics.ArtifactCounter.WithLabelValues(ResultFailed)); v != 3 {
		t.Errorf("failed metric = %v", v)
	}
}

func TestCollectorRetriesRetryableDownloads(t *testing.T) {
	source := newFakeSource(map[string]*fakeFile{
		"flaky": {
			info:        FileInfo{ID: "flaky", Filename: "out.txt", SizeBytes: 2},
			data:        []byte("hi"),
			downloadErr: []error{&agent.ProviderError{Provider: "test", Status: 503}, nil},
		},
	})
	c := NewCollector(CollectorConfig{Source: source, Policy: fastPolicy})

	got := c.Resolve(context.Background(), []string{"flaky"})
	if len(got) != 1 {
		t.Fatalf("expected flaky file to resolve after retry, got %d", len(got))
	}
	if source.downloads["flaky"] != 2 {
		t.Errorf("downloads = %d, want 2", source.downloads["flaky"])
	}
}

func TestCollectorNoSource(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	if got := c.Resolve(context.Background(), []string{"a"}); got != nil {
		t.Errorf("Resolve without source = %v", got)
	}
}

type memStore struct {
	objects map[string]Object
	putErr  error
	puts    int
}

func (s *memStore) Put(_ context.Context, obj Object) (string, error) {
	s.puts++
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[obj.Key] = obj
	return "mem://" + obj.Key, nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Close() error { return nil }

func TestCollectorArchives(t *testing.T) {
	source := newFakeSource(map[string]*fakeFile{
		"f1": {info: FileInfo{ID: "f1", Filename: "plot.png", MimeType: "image/png", SizeBytes: 3}, data: []byte("abc")},
	})
	now := func() time.Time { return time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC) }
	const key = "2025-03-04/f1/plot.png"

	t.Run("local store", func(t *testing.T) {
		store, err := NewLocalStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewLocalStore: %v", err)
		}
		c := NewCollector(CollectorConfig{Source: source, Archive: store, Now: now})
		if got := c.Resolve(context.Background(), []string{"f1"}); len(got) != 1 {
			t.Fatalf("Resolve = %v", got)
		}
		ok, err := store.Exists(context.Background(), key)
		if err != nil || !ok {
			t.Errorf("archived artifact missing: %v %v", ok, err)
		}
	})

	t.Run("object fields", func(t *testing.T) {
		store := &memStore{objects: map[string]Object{}}
		c := NewCollector(CollectorConfig{Source: source, Archive: store, Now: now})
		c.Resolve(context.Background(), []string{"f1"})
		obj, ok := store.objects[key]
		if !ok {
			t.Fatalf("objects = %v", store.objects)
		}
		if obj.FileID != "f1" || obj.Filename != "plot.png" || obj.MimeType != "image/png" || string(obj.Data) != "abc" {
			t.Errorf("archived object = %+v", obj)
		}
	})

	t.Run("already archived", func(t *testing.T) {
		store := &memStore{objects: map[string]Object{key: {Key: key}}}
		c := NewCollector(CollectorConfig{Source: source, Archive: store, Now: now})
		if got := c.Resolve(context.Background(), []string{"f1"}); len(got) != 1 {
			t.Fatalf("Resolve = %v", got)
		}
		if store.puts != 0 {
			t.Errorf("puts = %d, want 0", store.puts)
		}
	})

	t.Run("archive failure does not drop artifact", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)
		store := &memStore{objects: map[string]Object{}, putErr: errors.New("disk full")}
		c := NewCollector(CollectorConfig{Source: source, Archive: store, Now: now, Metrics: metrics})
		if got := c.Resolve(context.Background(), []string{"f1"}); len(got) != 1 {
			t.Fatalf("Resolve = %v", got)
		}
		if store.puts != 1 {
			t.Errorf("puts = %d", store.puts)
		}
		if v := testutil.ToFloat64(metrics.ArtifactCounter.WithLabelValues(ResultArchiveFailed)); v != 1 {
			t.Errorf("archive_failed = %v, want 1", v)
		}
	})
}
