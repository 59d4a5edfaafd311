package engine

import (
	"context"
	"io"
	"log/slog"

	"github.com/sshz/workbin-syncer/internal/driver"
	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// TransferFile delivers one remote file to the user's destination. Safe to
// invoke speculatively: an already-synced id is a no-op, and failures are
// fully handled here.
func (e *Engine) TransferFile(ctx context.Context, userID string, file models.RemoteFile) {
	logger := e.logger.With(slog.String("user", userID), slog.String("file", file.ID))

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		e.reportUnclassified(ctx, logger, userID, err)
		return
	}
	// Guards against a duplicate enqueue racing a completed run.
	if u.Synced(file.ID) {
		return
	}

	d := e.drivers.ForTarget(u.Target)
	if err := d.ValidateSettings(ctx, &u.TargetSettings); err != nil {
		// The user's settings are at fault, not this file: never mark it
		// synced here, whatever the quad says about retries.
		e.handleTransferError(ctx, logger, u, "", err)
		return
	}

	limit := e.maxFileSize
	if m := d.MaxFileSize(); m > 0 && m < limit {
		limit = m
	}
	if file.Size > limit {
		f := failure.Oversized(file.Path, e.source.FileURL(u, file.ID), file.Size, limit)
		e.handleClassified(ctx, logger, userID, u.Email, file.ID, f)
		return
	}

	if !e.source.ValidateToken(ctx, u) {
		e.disableForExpiredSession(ctx, logger, u)
		return
	}

	obj := driver.Object{
		Path: file.Path,
		Size: file.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return e.source.OpenFile(ctx, u, file.ID)
		},
	}
	if err := d.Transfer(ctx, &u.TargetSettings, obj); err != nil {
		e.handleTransferError(ctx, logger, u, file.ID, err)
		return
	}

	// Reload-then-merge under lock: another transfer for this user may have
	// appended its own id since we last read the record.
	err = e.store.WithLock(ctx, userID, func(fresh *models.User) error {
		fresh.MarkSynced(file.ID)
		for p, rev := range u.TargetSettings.Revisions {
			fresh.TargetSettings.SetRevision(p, rev)
		}
		return nil
	})
	if err != nil {
		e.reportUnclassified(ctx, logger, userID, err)
		return
	}
	logger.Info("file synced", slog.String("path", file.Path), slog.Int64("size", file.Size))
}

// handleTransferError routes a transfer-time error: classified failures get
// their quad applied (marking the file synced only on a no-retry decision),
// anything else goes to operators and stays retryable via the next scan.
func (e *Engine) handleTransferError(ctx context.Context, logger *slog.Logger, u *models.User, fileID string, err error) {
	f, ok := failure.As(err)
	if !ok {
		e.reportUnclassified(ctx, logger, u.ID, err)
		return
	}
	e.handleClassified(ctx, logger, u.ID, u.Email, fileID, f)
}
