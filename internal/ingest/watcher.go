package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig configures a hot folder: scanners or phones drop cutlist pages
// into Roots and each new file is emitted once it stops changing.
type WatchConfig struct {
	Roots       []string // watched recursively
	InitialScan bool     // also emit files already present
	SkipHidden  bool
	Debounce    time.Duration // coalesce write bursts; 0 emits immediately
	Logger      *slog.Logger
}

// StartWatcher emits paths of accepted files under the roots until ctx is
// done, then closes both channels.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && Hidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && Extractable(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watcher close failed", "error", err)
			}
		}()

		for _, p := range initial {
			select {
			case evCh <- p:
			case <-ctx.Done():
				return
			}
		}

		// pending paths wait for a quiet period before being emitted
		pending := map[string]time.Time{}
		tick := time.NewTicker(tickEvery(cfg.Debounce))
		defer tick.Stop()

		flush := func(now time.Time) {
			for p, last := range pending {
				if now.Sub(last) < cfg.Debounce {
					continue
				}
				select {
				case evCh <- p:
					delete(pending, p)
				case <-ctx.Done():
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create {
					// new subdirectories are watched too; Add fails harmlessly on files
					_ = w.Add(e.Name)
				}
				if cfg.SkipHidden && Hidden(e.Name) {
					continue
				}
				if Extractable(e.Name) && e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					pending[e.Name] = time.Now()
					if cfg.Debounce <= 0 {
						flush(time.Now())
					}
				}
			case now := <-tick.C:
				flush(now)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func tickEvery(debounce time.Duration) time.Duration {
	if debounce <= 0 {
		return time.Second
	}
	if t := debounce / 4; t > 10*time.Millisecond {
		return t
	}
	return 10 * time.Millisecond
}
