// Package engine implements the synchronization core: the per-user scan
// routine, the per-file transfer routine, and the application of classified
// failures to user state.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/sshz/workbin-syncer/internal/driver"
	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/internal/notify"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// UserStore is the persistence surface the engine mutates users through.
// WithLock must reload the freshest record under the user's lease before
// handing it to the callback.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	WithLock(ctx context.Context, id string, fn func(*models.User) error) error
}

// Source is the content-source read API.
type Source interface {
	ValidateToken(ctx context.Context, u *models.User) bool
	ListAllFiles(ctx context.Context, u *models.User) ([]models.RemoteFile, error)
	FileURL(u *models.User, fileID string) string
	OpenFile(ctx context.Context, u *models.User, fileID string) (io.ReadCloser, error)
}

// Drivers resolves a user's selected target to its destination driver.
type Drivers interface {
	ForTarget(name string) driver.Driver
}

// TransferQueue accepts transfer jobs derived from a scan. Enqueueing is
// idempotent per (user, file) key.
type TransferQueue interface {
	TriggerFileTransfer(userID string, file models.RemoteFile) bool
}

// scanFailureAlertThreshold is how many consecutive failed enumerations a
// user accumulates before the operator alert gets louder. Never escalated to
// the user: upstream flakiness must not cost anyone a disabled account.
const scanFailureAlertThreshold = 5

// Engine runs scan and transfer jobs.
type Engine struct {
	store       UserStore
	source      Source
	drivers     Drivers
	notifier    notify.Notifier
	queue       TransferQueue
	maxFileSize int64
	logger      *slog.Logger

	mu           sync.Mutex
	scanFailures map[string]int
}

// New builds an engine. The transfer queue is attached separately via
// SetQueue because the scheduler consuming the engine also implements it.
func New(store UserStore, source Source, drivers Drivers, notifier notify.Notifier, maxFileSize int64, logger *slog.Logger) *Engine {
	return &Engine{
		store:        store,
		source:       source,
		drivers:      drivers,
		notifier:     notifier,
		maxFileSize:  maxFileSize,
		logger:       logging.WithComponent(logger, "engine"),
		scanFailures: make(map[string]int),
	}
}

// SetQueue attaches the transfer queue scans feed into.
func (e *Engine) SetQueue(q TransferQueue) {
	e.queue = q
}

// applyQuad mutates a user record according to a classified failure. Pure
// with respect to the failure value; must run under the user's lock.
func applyQuad(u *models.User, f *failure.Failure, fileID string) {
	if f.DisableUser {
		u.Enabled = false
	}
	if f.LogoutTarget {
		u.LogoutTarget()
	}
	if !f.Retry && fileID != "" {
		u.MarkSynced(fileID)
	}
}

// handleClassified applies a failure's quad under lock and routes its
// notification. fileID is empty when the failure is not about one file.
func (e *Engine) handleClassified(ctx context.Context, logger *slog.Logger, userID, email, fileID string, f *failure.Failure) {
	err := e.store.WithLock(ctx, userID, func(fresh *models.User) error {
		applyQuad(fresh, f, fileID)
		return nil
	})
	if err != nil {
		e.reportUnclassified(ctx, logger, userID, err)
		return
	}
	e.dispatchNotice(ctx, logger, email, f)
}

// dispatchNotice sends a classified failure to whoever the quad directs it
// at. State has already been mutated; this is notification only.
func (e *Engine) dispatchNotice(ctx context.Context, logger *slog.Logger, email string, f *failure.Failure) {
	logger.Warn("classified failure",
		slog.String("subject", f.Subject),
		slog.Bool("retry", f.Retry),
		slog.Bool("notify_user", f.NotifyUser),
		slog.Bool("disable_user", f.DisableUser),
		slog.Bool("logout_target", f.LogoutTarget),
		slog.Any("error", f.Err))

	if f.NotifyUser && email != "" {
		e.notifier.User(ctx, email, f.Subject, f.Message)
		return
	}
	detail := f.Subject
	if f.Err != nil {
		detail = f.Error()
	}
	e.notifier.Operator(ctx, f.Subject, detail)
}

// reportUnclassified escalates anything that is not a classified failure to
// operators. Persisted state is never changed: the item stays naturally
// retryable, and users never see internals.
func (e *Engine) reportUnclassified(ctx context.Context, logger *slog.Logger, userID string, err error) {
	logger.Error("unclassified error", slog.Any("error", err))
	e.notifier.Operator(ctx, "Unclassified sync error", "user "+userID+": "+err.Error())
}

func (e *Engine) bumpScanFailures(userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scanFailures[userID]++
	return e.scanFailures[userID]
}

func (e *Engine) resetScanFailures(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scanFailures, userID)
}
