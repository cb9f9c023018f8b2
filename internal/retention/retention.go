// Package retention keeps a recording folder under its storage quota by wiping it.
package retention

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrRetention wraps failures to measure or clean the folder.
var ErrRetention = errors.New("retention failure")

// Result describes one quota check.
type Result struct {
	SizeBefore int64
	Evicted    bool
}

// Manager enforces a byte quota on a folder.
type Manager struct {
	fs     FS
	logger *zap.Logger
}

// NewManager creates a retention manager. A nil fs uses the local disk.
func NewManager(fsys FS, logger *zap.Logger) *Manager {
	if fsys == nil {
		fsys = OSFS{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{fs: fsys, logger: logger}
}

// EnforceQuota measures folder and, when it holds more than quotaBytes, deletes every
// entry beneath it and recreates the empty folder. A negative quota disables the check.
//
// The returned error is informational: the folder is always recreated before return,
// so callers proceed with the next segment regardless.
func (m *Manager) EnforceQuota(ctx context.Context, folder string, quotaBytes int64) (Result, error) {
	if quotaBytes < 0 {
		return Result{}, nil
	}
	size, err := m.fs.Size(folder)
	if err != nil {
		return Result{}, fmt.Errorf("%w: measure %s: %v", ErrRetention, folder, err)
	}
	res := Result{SizeBefore: size}
	if size <= quotaBytes {
		return res, nil
	}

	m.logger.Info("quota exceeded, clearing folder",
		zap.String("folder", folder),
		zap.Int64("size", size),
		zap.Int64("quota", quotaBytes),
	)
	res.Evicted = true

	var errs []error
	entries, err := m.fs.ReadDir(folder)
	if err != nil {
		errs = append(errs, fmt.Errorf("read %s: %w", folder, err))
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		p := filepath.Join(folder, e.Name())
		if err := m.fs.RemoveAll(p); err != nil {
			m.logger.Warn("remove failed", zap.String("path", p), zap.Error(err))
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	if err := m.fs.MkdirAll(folder, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("recreate %s: %w", folder, err))
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrRetention, errors.Join(errs...))
	}
	return res, nil
}
