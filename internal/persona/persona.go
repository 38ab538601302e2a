// Package persona loads the bot's persona prompt and keeps it current
// while the file is edited.
package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BotNamePlaceholder is replaced with the bot's display name.
const BotNamePlaceholder = "{{BOT_NAME}}"

// DefaultText is used when no persona file is configured.
const DefaultText = "You are " + BotNamePlaceholder + ", a helpful and friendly member of this Discord server."

const defaultDebounce = 250 * time.Millisecond

// Persona holds the rendered persona prompt.
type Persona struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	raw     string
	botName string

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Load reads the persona at path. An empty path uses DefaultText.
func Load(path string, logger *slog.Logger) (*Persona, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persona{path: path, logger: logger.With("component", "persona"), raw: DefaultText}
	if path == "" {
		return p, nil
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Text returns the persona with the bot name substituted.
func (p *Persona) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name := p.botName
	if name == "" {
		name = "Assistant"
	}
	return strings.TrimSpace(strings.ReplaceAll(p.raw, BotNamePlaceholder, name))
}

// SetBotName sets the name substituted for BotNamePlaceholder. The name
// is only known once the bot has logged in.
func (p *Persona) SetBotName(name string) {
	p.mu.Lock()
	p.botName = name
	p.mu.Unlock()
}

// Reload re-reads the persona file. A failed or empty read keeps the
// previous text.
func (p *Persona) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read persona: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return errors.New("persona file is empty")
	}
	p.mu.Lock()
	p.raw = text
	p.mu.Unlock()
	p.logger.Info("persona loaded", "path", p.path, "bytes", len(text))
	return nil
}

// Watch reloads the persona whenever its file changes, until ctx is done
// or Close is called. The parent directory is watched so that editors
// that replace the file by rename are seen.
func (p *Persona) Watch(ctx context.Context, debounce time.Duration) error {
	if p.path == "" {
		return nil
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch persona dir: %w", err)
	}
	p.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops watching.
func (p *Persona) Close() error {
	p.watchMu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	watcher := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	p.wg.Wait()
	return err
}

func (p *Persona) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer p.wg.Done()

	target := filepath.Clean(p.path)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := p.Reload(); err != nil {
				p.logger.Warn("persona reload failed", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("persona watch error", "error", err)
		}
	}
}
