package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"pawprints_backend/core"

	"go.uber.org/zap"
)

// DefaultUploadMaxAge is how long staged photo uploads are kept before
// shutdown cleanup removes them. Uploads are transient staging for the
// stylization pass; anything this old was abandoned mid-flow.
const DefaultUploadMaxAge = 24 * time.Hour

// CleanupUploads returns a shutdown function that removes stale files
// from the uploads staging directory. Files newer than maxAge survive so
// an in-progress session can resume after a restart.
//
// Priority recommendation: 40+ (final cleanup, after the server stopped)
//
// The cleanup function:
//   - Removes staged uploads older than maxAge
//   - Logs each removal (success or failure)
//   - Continues even if individual removals fail
//   - Returns nil to avoid blocking shutdown (errors are logged)
//
// Usage:
//
//	manager.Register("cleanup-uploads", 45, shutdown.CleanupUploads(logger, cfg.UploadsDir, shutdown.DefaultUploadMaxAge))
func CleanupUploads(logger *zap.Logger, uploadsDir string, maxAge time.Duration) core.ShutdownFunc {
	return func(ctx context.Context) error {
		return cleanupStaleFiles(ctx, logger, uploadsDir, maxAge)
	}
}

// cleanupStaleFiles removes regular files in dir whose modification time
// is older than maxAge. Returns nil even if some deletions fail.
func cleanupStaleFiles(ctx context.Context, logger *zap.Logger, dir string, maxAge time.Duration) error {
	logger.Debug("Starting stale upload cleanup",
		zap.String("directory", dir),
		zap.Duration("max_age", maxAge),
	)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Error("Failed to list uploads directory",
			zap.String("directory", dir),
			zap.Error(err),
		)
		// Return nil to not block shutdown
		return nil
	}

	cutoff := time.Now().Add(-maxAge)

	var removedCount int
	var failedCount int

	for _, entry := range entries {
		// Check context between file deletions
		select {
		case <-ctx.Done():
			logger.Warn("Shutdown context cancelled during cleanup",
				zap.Int("removed", removedCount),
			)
			return nil
		default:
		}

		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			failedCount++
			logger.Warn("Failed to remove stale upload",
				zap.String("file", entry.Name()),
				zap.Error(err),
			)
		} else {
			removedCount++
			logger.Debug("Removed stale upload",
				zap.String("file", entry.Name()),
			)
		}
	}

	if removedCount > 0 || failedCount > 0 {
		logger.Info("Stale upload cleanup complete",
			zap.Int("removed", removedCount),
			zap.Int("failed", failedCount),
		)
	}

	return nil
}
