package guardian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// requestDebounce lets a writer finish before the request is read.
const requestDebounce = 100 * time.Millisecond

// WaitForResolution blocks until a resolution request for rec appears, then
// returns it. The request is not consumed; the caller clears it once the
// resolution has been applied. A request already present is returned
// immediately.
func (s *Store) WaitForResolution(ctx context.Context, rec *AnomalyRecord) (*Resolution, error) {
	dir := filepath.Dir(RequestPath(rec))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create anomalies directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: the request file is created by rename.
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Checked after Add so a request written in between is not missed.
	if res, err := s.PendingRequest(rec); err != nil || res != nil {
		return res, err
	}

	target := filepath.Base(RequestPath(rec))
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	s.logger.Info("waiting for anomaly resolution", "anomaly_id", rec.ID, "request_file", RequestPath(rec))
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("file watcher closed")
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(requestDebounce)

		case <-debounce.C:
			res, err := s.PendingRequest(rec)
			if err != nil {
				s.logger.Warn("ignoring unreadable resolution request", "anomaly_id", rec.ID, "error", err.Error())
				continue
			}
			if res != nil {
				return res, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("file watcher closed")
			}
			s.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}
