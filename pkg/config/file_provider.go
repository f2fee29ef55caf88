package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// ReloadHook observes every reload attempt after the initial load.
type ReloadHook func(generation int64, err error)

// FileSnapshotProvider serves crypt configuration snapshots loaded from a local file.
type FileSnapshotProvider struct {
	SnapshotHolder

	path     string
	debounce time.Duration
	logger   *slog.Logger
	onReload ReloadHook
	readFile func(string) ([]byte, error)

	// reloadMu serialises load so snapshots are published in read order.
	reloadMu   sync.Mutex
	generation int64

	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	cancel     context.CancelFunc
	done       chan struct{}
}

// ProviderOption customises a FileSnapshotProvider.
type ProviderOption func(*FileSnapshotProvider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *FileSnapshotProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebounce sets the delay between the last file event and the reload.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *FileSnapshotProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithReloadHook registers a callback invoked after every reload attempt.
func WithReloadHook(hook ReloadHook) ProviderOption {
	return func(p *FileSnapshotProvider) {
		p.onReload = hook
	}
}

// NewFileSnapshotProvider loads path and publishes the first snapshot.
// An unreadable or invalid file is an error: the gateway never starts without
// a configuration.
func NewFileSnapshotProvider(path string, opts ...ProviderOption) (*FileSnapshotProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &FileSnapshotProvider{
		path:     absPath,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := p.load(); err != nil {
		return nil, fmt.Errorf("initial crypt config load failed: %w", err)
	}
	return p, nil
}

// Path returns the absolute path of the watched file.
func (p *FileSnapshotProvider) Path() string {
	return p.path
}

// Watch starts reloading the file whenever it changes. The parent directory
// is watched so editors that replace the file atomically are handled.
func (p *FileSnapshotProvider) Watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.watchLoop(ctx, watcher, p.done)
	return nil
}

// Reload re-reads the file now. A failed reload leaves the current snapshot in place.
func (p *FileSnapshotProvider) Reload() error {
	generation, err := p.load()
	if err != nil {
		p.logger.Error("crypt config reload failed, keeping previous snapshot",
			"path", p.path, "error", err)
	} else {
		p.logger.Info("crypt config reloaded", "path", p.path, "generation", generation)
	}
	if p.onReload != nil {
		p.onReload(generation, err)
	}
	return err
}

// Close stops the watcher and cleans up resources.
func (p *FileSnapshotProvider) Close() error {
	p.mu.Lock()
	watcher, cancel, done := p.watcher, p.cancel, p.done
	p.watcher, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	<-done
	return err
}

func (p *FileSnapshotProvider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

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
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(p.debounce, func() {
					if ctx.Err() != nil {
						return
					}
					_ = p.Reload()
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("crypt config watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *FileSnapshotProvider) load() (int64, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	// #nosec G304 -- File path is configured at startup
	data, err := p.readFile(p.path)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("crypt config file is empty")
	}

	crypt, err := ParseCryptConfig(data)
	if err != nil {
		return 0, err
	}

	p.generation++
	snapshot := &Snapshot{
		Generation: p.generation,
		LoadedAt:   time.Now(),
		Source:     p.path,
		Crypt:      crypt,
	}
	p.Store(snapshot)

	return snapshot.Generation, nil
}
