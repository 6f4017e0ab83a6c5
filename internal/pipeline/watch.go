package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type WatchOptions struct {
	// Dir is watched recursively, except for Ignore.
	Dir    string
	Ignore string
	// Debounce is how long the tree must be quiet before OnChange runs.
	Debounce time.Duration
	OnChange func(ctx context.Context) error
	Log      *zap.SugaredLogger
}

// Watch calls opts.OnChange after files under opts.Dir change, until ctx is done.
// Errors from OnChange are logged and watching continues.
func Watch(ctx context.Context, opts WatchOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// both sides are absolute so a relative Ignore still matches the walked paths
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", opts.Dir, err)
	}
	var ignore string
	if opts.Ignore != "" {
		ignore, err = filepath.Abs(opts.Ignore)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", opts.Ignore, err)
		}
	}
	ignored := func(path string) bool {
		return ignore != "" && (path == ignore || strings.HasPrefix(path, ignore+string(filepath.Separator)))
	}

	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if ignored(path) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
	}
	err = addTree(dir)
	if err != nil {
		return fmt.Errorf("watching %s: %w", opts.Dir, err)
	}
	opts.Log.Infow("watching for changes", "Dir", opts.Dir)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || ignored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(ev.Name); err != nil {
						opts.Log.Warnw("error watching new directory", "Dir", ev.Name, "Error", err)
					}
				}
			}
			opts.Log.Debugw("change detected", "Path", ev.Name, "Op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(opts.Debounce)
			timerCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			opts.Log.Warnw("watcher error", "Error", err)
		case <-timerCh:
			timerCh = nil
			if err := opts.OnChange(ctx); err != nil {
				opts.Log.Errorw("rebuild failed", "Error", err)
			}
		}
	}
}
