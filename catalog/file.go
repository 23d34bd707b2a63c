package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk YAML shape of a catalog file.
type fileDoc struct {
	Providers []Provider `yaml:"providers"`
	Subjects  []Subject  `yaml:"subjects"`
}

// File is a catalog loaded from a YAML file and hot-reloaded on writes.
// Availability flips made by an operator become visible to running submits
// without a restart. A reload that fails to parse keeps the last good
// snapshot.
type File struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	snap *Static

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// FileOption configures a File catalog.
type FileOption func(*File)

// WithLogger sets the logger used for reload outcomes.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.log = l }
}

// OpenFile loads the catalog at path and starts watching its directory for
// changes. Watching the directory rather than the file survives the
// rename-over-write pattern editors and deploy tools use.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, log: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		opt(f)
	}

	snap, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	f.snap = snap

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("catalog: watch %s: %w", path, err)
	}
	f.watcher = w

	go f.watch()
	return f, nil
}

func loadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &Static{ProviderList: doc.Providers, SubjectList: doc.Subjects}, nil
}

func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			snap, err := loadFile(f.path)
			if err != nil {
				f.log.Warn("catalog.reload.fail", slog.String("err", err.Error()))
				continue
			}
			f.mu.Lock()
			f.snap = snap
			f.mu.Unlock()
			f.log.Info("catalog.reload.ok",
				slog.Int("providers", len(snap.ProviderList)),
				slog.Int("subjects", len(snap.SubjectList)))
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("catalog.watch.fail", slog.String("err", err.Error()))
		}
	}
}

func (f *File) current() *Static {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

func (f *File) Provider(ctx context.Context, id string) (Provider, error) {
	return f.current().Provider(ctx, id)
}

func (f *File) Providers(ctx context.Context) ([]Provider, error) {
	return f.current().Providers(ctx)
}

func (f *File) Subjects(ctx context.Context) ([]Subject, error) {
	return f.current().Subjects(ctx)
}

// Close stops the watcher.
func (f *File) Close() error {
	close(f.done)
	return f.watcher.Close()
}

var _ Catalog = (*File)(nil)
