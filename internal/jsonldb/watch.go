package jsonldb

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Watch reloads loaded collections whose file is modified by another
// process. Bursts of events are coalesced: at most one reload pass runs per
// interval. Watch returns once the watcher is installed; it stops when ctx is
// done.
func (db *Database) Watch(ctx context.Context, interval time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(db.dir); err != nil {
		_ = w.Close()
		return err
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	go func() {
		defer func() { _ = w.Close() }()
		pending := map[string]struct{}{}
		var flush <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				name, ok := collectionName(event.Name)
				if !ok {
					continue
				}
				pending[name] = struct{}{}
				if flush == nil {
					flush = time.After(limiter.Reserve().Delay())
				}
			case <-flush:
				flush = nil
				for name := range pending {
					delete(pending, name)
					t := db.loaded(name)
					if t == nil {
						continue
					}
					if err := t.Reload(); err != nil {
						slog.WarnContext(ctx, "Failed to reload collection", "collection", name, "err", err)
						continue
					}
					slog.DebugContext(ctx, "Reloaded collection", "collection", name, "rows", t.Len())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching database directory", "err", err)
			}
		}
	}()
	return nil
}

func collectionName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(base, fileExt), true
}
