package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/pkg/models"
)

const sessionExpiredBody = "Your workbin session has expired, so syncing has been paused. " +
	"Please log in again on the dashboard to refresh your session, then re-enable syncing."

// ScanUser enumerates a user's remote files and enqueues a transfer job for
// every file not yet synced. All failures are handled here; nothing
// propagates to the caller, so one user's trouble never aborts the worker.
func (e *Engine) ScanUser(ctx context.Context, userID string) {
	logger := e.logger.With(slog.String("user", userID))

	// Settings are checked under the lock: a failed check mutates state, and
	// the record must be fresh when it does. The lock is released before the
	// network-heavy enumeration below.
	var (
		u               *models.User
		wasEnabled      bool
		settingsFailure *failure.Failure
	)
	err := e.store.WithLock(ctx, userID, func(fresh *models.User) error {
		u = fresh
		wasEnabled = fresh.Enabled
		if !fresh.Enabled {
			return nil
		}
		d := e.drivers.ForTarget(fresh.Target)
		if err := d.ValidateSettings(ctx, &fresh.TargetSettings); err != nil {
			f, ok := failure.As(err)
			if !ok {
				return err
			}
			settingsFailure = f
			applyQuad(fresh, f, "")
		}
		return nil
	})
	if err != nil {
		e.reportUnclassified(ctx, logger, userID, err)
		return
	}
	if !wasEnabled {
		return
	}
	if settingsFailure != nil {
		e.dispatchNotice(ctx, logger, u.Email, settingsFailure)
		return
	}

	if !e.source.ValidateToken(ctx, u) {
		e.disableForExpiredSession(ctx, logger, u)
		return
	}

	files, err := e.source.ListAllFiles(ctx, u)
	if err != nil {
		// State untouched: this cycle is skipped and retried next tick.
		count := e.bumpScanFailures(userID)
		logger.Warn("enumeration failed, cycle skipped",
			slog.Int("consecutive", count), slog.Any("error", err))
		subject := "Workbin enumeration failed"
		if count >= scanFailureAlertThreshold {
			subject = fmt.Sprintf("Workbin enumeration failing (%d cycles in a row)", count)
		}
		e.notifier.Operator(ctx, subject, fmt.Sprintf("user %s: %v", userID, err))
		return
	}
	e.resetScanFailures(userID)

	queued := 0
	for _, f := range files {
		if u.Synced(f.ID) {
			continue
		}
		if e.queue != nil && e.queue.TriggerFileTransfer(userID, f) {
			queued++
		}
	}
	logger.Info("scan complete",
		slog.Int("remote_files", len(files)),
		slog.Int("queued_transfers", queued))
}

// disableForExpiredSession pauses a user whose content-source token no
// longer works and asks them to log in again.
func (e *Engine) disableForExpiredSession(ctx context.Context, logger *slog.Logger, u *models.User) {
	err := e.store.WithLock(ctx, u.ID, func(fresh *models.User) error {
		fresh.Enabled = false
		return nil
	})
	if err != nil {
		e.reportUnclassified(ctx, logger, u.ID, err)
		return
	}
	logger.Info("session expired, sync paused")
	e.notifier.User(ctx, u.Email, "Workbin session expired", sessionExpiredBody)
}
