package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// catalogWatcher remembers the file version that was last applied.
type catalogWatcher struct {
	path     string
	modTime  time.Time
	size     int64
	logger   *zerolog.Logger
	onUpdate func(*Catalog)
}

// poll applies the catalog when the file changed since the last applied version.
// A catalog that fails to load or validate is skipped and the previous one stays.
func (w *catalogWatcher) poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("catalog stat failed")
		return false
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return false
	}

	cat, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("catalog reload skipped")
		// Remember the broken version so it is not reported on every tick.
		w.modTime, w.size = info.ModTime(), info.Size()
		return false
	}
	w.modTime, w.size = info.ModTime(), info.Size()
	if w.onUpdate != nil {
		w.onUpdate(cat)
	}
	return true
}

// WatchCatalog loads catalog.yaml, hands it to onUpdate and then polls the file
// every interval, calling onUpdate again after each successful change. The first
// load must succeed; later broken edits are logged and ignored.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*Catalog)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cat)
	}

	w := &catalogWatcher{path: path, modTime: info.ModTime(), size: info.Size(), logger: logger, onUpdate: onUpdate}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.poll() {
					logger.Info().Str("path", path).Msg("Catalog reloaded")
				}
			}
		}
	}()
	return nil
}
