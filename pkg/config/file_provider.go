package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// FileProvider loads a configuration file and reloads it when it changes.
// A reload that fails to read, parse or validate keeps the previous snapshot.
type FileProvider struct {
	path        string
	logger      *slog.Logger
	debounce    time.Duration
	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []chan Snapshot
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewFileProvider loads path and starts watching it. The initial load must succeed.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &FileProvider{
		path:     absPath,
		logger:   logger,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	if err := p.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still observed.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the latest successfully loaded snapshot.
func (p *FileProvider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives configuration updates. The
// current snapshot is delivered immediately; slow consumers miss intermediate
// snapshots but always see a newer one.
func (p *FileProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher and cleans up resources.
func (p *FileProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()
	<-p.done
	return err
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(p.debounce, func() {
					if ctx.Err() != nil {
						return
					}
					if err := p.load(); err != nil {
						p.logger.Warn("config reload failed, keeping previous snapshot", "path", p.path, "error", err)
						return
					}
					p.logger.Info("configuration reloaded", "path", p.path, "generation", p.Current().Generation)
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.snapshot = Snapshot{
		Generation: p.snapshot.Generation + 1,
		LoadedAt:   time.Now(),
		Config:     cfg,
	}
	snapshot := p.snapshot
	subscribers := make([]chan Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		// Replace a pending, unread snapshot with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}

	return nil
}
