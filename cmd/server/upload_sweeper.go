package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startUploadSweeper periodically removes pending-upload temp files that an
// interrupted request left behind in the upload directory.
func startUploadSweeper(ctx context.Context, logger *slog.Logger, dir string, maxAge, interval time.Duration) func() {
	return startUploadSweeperWithTicker(ctx, logger, dir, maxAge, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startUploadSweeperWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	dir string,
	maxAge time.Duration,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if dir == "" || maxAge <= 0 || interval <= 0 {
		return func() {}
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C():
				removed, err := sweepPendingUploads(dir, maxAge, time.Now())
				if err != nil && logger != nil {
					logger.Error("failed to sweep stale uploads", "dir", dir, "error", err)
				}
				if removed > 0 && logger != nil {
					logger.Info("removed stale upload temp files", "dir", dir, "count", removed)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweepPendingUploads(dir string, maxAge time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "pending-upload-*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
