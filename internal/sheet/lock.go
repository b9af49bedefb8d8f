// internal/sheet/lock.go
package sheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// FileLock is a cross-process lock backed by an exclusively created file.
// Sites running in separate processes share the daily workbook through it.
type FileLock struct {
	path   string
	poll   time.Duration
	logger *zap.Logger
}

func NewFileLock(path string, poll time.Duration, logger *zap.Logger) *FileLock {
	if poll <= 0 {
		poll = time.Second
	}
	return &FileLock{path: path, poll: poll, logger: logger}
}

// Acquire blocks until the lock file could be created or ctx ends. The
// returned func removes the lock file.
func (l *FileLock) Acquire(ctx context.Context) (release func(), err error) {
	operation := func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(fmt.Errorf("failed to create lock file %s: %w", l.path, err))
		}
		return err
	}
	notify := func(error, time.Duration) {
		l.logger.Info("Lock file still exists, another site is writing.", zap.String("lock", l.path))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.NewConstantBackOff(l.poll), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gave up waiting for %s: %w", l.path, ctx.Err())
		}
		return nil, err
	}
	return l.release, nil
}

func (l *FileLock) release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Error("Failed to remove lock file.", zap.String("lock", l.path), zap.Error(err))
		return
	}
	l.logger.Debug("Lock file removed.", zap.String("lock", l.path))
}
