// Package watcher ingests files dropped into a per-user inbox directory using fsnotify.
// A file at {root}/{user_id}/{name} belongs to user_id; nested directories are ignored.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives inbox changes. *service.Service implements it.
type Handler interface {
	IngestFile(ctx context.Context, userID, fileID, path, filename string) (*models.Document, error)
	Delete(ctx context.Context, userID, fileID string) (bool, error)
	Document(ctx context.Context, userID, fileID string) (*models.Document, error)
}

// Inbox watches root and its user directories and forwards settled file changes to a Handler.
type Inbox struct {
	root       string
	extensions []string
	handler    Handler
	debounce   time.Duration
	logger     *zap.Logger // optional; when set, logs debug events

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	ctx      context.Context
	inflight sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a file must stay unchanged before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// NewInbox creates an inbox on root accepting files with the given extensions.
func NewInbox(root string, extensions []string, handler Handler, opts ...Option) *Inbox {
	in := &Inbox{
		root:       filepath.Clean(root),
		extensions: extensions,
		handler:    handler,
		debounce:   defaultDebounce,
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start watches the inbox, creating it when missing, and schedules every existing file.
// It runs until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(in.root, 0755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(in.root); err != nil {
		_ = w.Close()
		return err
	}

	in.mu.Lock()
	in.watcher = w
	in.ctx = ctx
	in.mu.Unlock()

	entries, err := os.ReadDir(in.root)
	if err != nil {
		in.Stop()
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			in.addUserDir(filepath.Join(in.root, e.Name()))
		}
	}
	if in.logger != nil {
		in.logger.Info("inbox watching", zap.String("root", in.root))
	}
	go in.run(ctx, w)
	return nil
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if in.logger != nil {
				in.logger.Debug("inbox watcher error", zap.Error(err))
			}
		}
	}
}

// locate splits path into its user and file name. ok is false for anything that is not
// a direct child of a user directory.
func (in *Inbox) locate(path string) (userID, name string, ok bool) {
	rel, err := filepath.Rel(in.root, filepath.Clean(path))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || parts[0] == ".." || hidden(parts[0]) || hidden(parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	if in.logger != nil {
		in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	if filepath.Dir(filepath.Clean(ev.Name)) == in.root {
		if ev.Has(fsnotify.Create) && !hidden(filepath.Base(ev.Name)) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				in.addUserDir(ev.Name)
			}
		}
		return
	}

	userID, name, ok := in.locate(ev.Name)
	if !ok || !extract.Allowed(name, in.extensions) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		in.schedule(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.cancel(ev.Name)
		in.dispatch(func(ctx context.Context) { in.remove(ctx, userID, ev.Name) })
	}
}

// addUserDir watches a user directory and schedules the files already in it.
func (in *Inbox) addUserDir(dir string) {
	in.mu.Lock()
	w := in.watcher
	in.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.Add(dir); err != nil {
		if in.logger != nil {
			in.logger.Warn("inbox failed to watch user directory", zap.String("path", dir), zap.Error(err))
		}
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || hidden(e.Name()) || !extract.Allowed(e.Name(), in.extensions) {
			continue
		}
		in.schedule(filepath.Join(dir, e.Name()))
	}
}

// schedule ingests path once it has been quiet for the debounce period.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.watcher == nil {
		return
	}
	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()
		userID, _, ok := in.locate(path)
		if !ok {
			return
		}
		in.dispatch(func(ctx context.Context) { in.ingest(ctx, userID, path) })
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.timers[path]; ok {
		t.Stop()
		delete(in.timers, path)
	}
}

// dispatch runs fn unless the inbox is stopped. Stop waits for running calls.
func (in *Inbox) dispatch(fn func(ctx context.Context)) {
	in.mu.Lock()
	if in.watcher == nil {
		in.mu.Unlock()
		return
	}
	ctx := in.ctx
	in.inflight.Add(1)
	in.mu.Unlock()
	go func() {
		defer in.inflight.Done()
		fn(ctx)
	}()
}

// ingest indexes the file, replacing an older version. An indexed document newer than
// the file is left alone.
func (in *Inbox) ingest(ctx context.Context, userID, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	id := fileid.ForPath(userID, path)
	doc, err := in.handler.Document(ctx, userID, id)
	switch {
	case err == nil && doc.Status == models.StatusIndexed && !doc.UpdatedAt.Before(info.ModTime()):
		return
	case err == nil:
		if _, err := in.handler.Delete(ctx, userID, id); err != nil {
			in.logError("inbox failed to replace document", userID, path, err)
			return
		}
	case !errors.Is(err, storage.ErrNotFound):
		in.logError("inbox failed to look up document", userID, path, err)
		return
	}

	doc, err = in.handler.IngestFile(ctx, userID, id, path, filepath.Base(path))
	if err != nil {
		in.logError("inbox ingestion failed", userID, path, err)
		return
	}
	if in.logger != nil {
		in.logger.Info("inbox file ingested",
			zap.String("user_id", userID),
			zap.String("path", path),
			zap.String("file_id", doc.FileID))
	}
}

func (in *Inbox) remove(ctx context.Context, userID, path string) {
	if _, err := os.Stat(path); err == nil {
		// renamed over or recreated; the create event schedules it
		return
	}
	if _, err := in.handler.Delete(ctx, userID, fileid.ForPath(userID, path)); err != nil {
		in.logError("inbox delete failed", userID, path, err)
	}
}

func (in *Inbox) logError(msg, userID, path string, err error) {
	if in.logger != nil {
		in.logger.Error(msg, zap.String("user_id", userID), zap.String("path", path), zap.Error(err))
	}
}

// Stop stops watching and waits for running ingestions and deletions.
func (in *Inbox) Stop() {
	in.mu.Lock()
	w := in.watcher
	in.watcher = nil
	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
	in.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	in.stopOnce.Do(func() { close(in.done) })
	in.inflight.Wait()
}
