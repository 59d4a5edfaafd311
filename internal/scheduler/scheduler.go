// Package scheduler drives the engine: a self-rescheduling tick loop fans
// enabled users into scan jobs, and scans fan discovered files into transfer
// jobs. Both queues are keyed and idempotent — a key with a pending or
// running job is never enqueued twice.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/models"
)

const queueDepth = 1024

// JobRunner executes scan and transfer jobs. Both calls fully handle their
// own failures.
type JobRunner interface {
	ScanUser(ctx context.Context, userID string)
	TransferFile(ctx context.Context, userID string, file models.RemoteFile)
}

// UserLister enumerates the users eligible for scheduling.
type UserLister interface {
	ListEnabledUsers(ctx context.Context) ([]string, error)
}

type transferJob struct {
	userID string
	file   models.RemoteFile
}

// Scheduler owns the worker pools and the tick loop.
type Scheduler struct {
	users           UserLister
	runner          JobRunner
	logger          *slog.Logger
	interval        time.Duration
	scanWorkers     int
	transferWorkers int

	scanQ     chan string
	transferQ chan transferJob

	mu      sync.Mutex
	active  map[string]struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler from daemon configuration.
func New(users UserLister, runner JobRunner, cfg config.Daemon, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		users:           users,
		runner:          runner,
		logger:          logging.WithComponent(logger, "scheduler"),
		interval:        time.Duration(cfg.ScanInterval) * time.Second,
		scanWorkers:     cfg.ScanWorkers,
		transferWorkers: cfg.TransferWorkers,
		scanQ:           make(chan string, queueDepth),
		transferQ:       make(chan transferJob, queueDepth),
		active:          make(map[string]struct{}),
	}
}

// Start launches the workers and the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.scanWorkers; i++ {
		s.wg.Add(1)
		go s.runScanWorker(runCtx)
	}
	for i := 0; i < s.transferWorkers; i++ {
		s.wg.Add(1)
		go s.runTransferWorker(runCtx)
	}
	s.wg.Add(1)
	go s.runTickLoop(runCtx)

	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// TriggerUserScan enqueues a scan job for the user. Returns false when a job
// with the same key is already pending or running, or the queue is full.
func (s *Scheduler) TriggerUserScan(userID string) bool {
	key := "scan:" + userID
	if !s.claim(key) {
		return false
	}
	select {
	case s.scanQ <- userID:
		return true
	default:
		s.release(key)
		s.logger.Warn("scan queue full, job dropped", slog.String("user", userID))
		return false
	}
}

// TriggerFileTransfer enqueues a transfer job keyed by (user, file).
// Idempotent in the same way as TriggerUserScan.
func (s *Scheduler) TriggerFileTransfer(userID string, file models.RemoteFile) bool {
	key := "transfer:" + userID + ":" + file.ID
	if !s.claim(key) {
		return false
	}
	select {
	case s.transferQ <- transferJob{userID: userID, file: file}:
		return true
	default:
		s.release(key)
		s.logger.Warn("transfer queue full, job dropped",
			slog.String("user", userID), slog.String("file", file.ID))
		return false
	}
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[key]; exists {
		return false
	}
	s.active[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// runTickLoop scans all enabled users immediately, then on every interval.
func (s *Scheduler) runTickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.users.ListEnabledUsers(ctx)
	if err != nil {
		s.logger.Error("list enabled users failed", slog.Any("error", err))
		return
	}
	queued := 0
	for _, id := range ids {
		if s.TriggerUserScan(id) {
			queued++
		}
	}
	s.logger.Info("tick", slog.Int("enabled_users", len(ids)), slog.Int("queued_scans", queued))
}

func (s *Scheduler) runScanWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-s.scanQ:
			s.runner.ScanUser(ctx, userID)
			s.release("scan:" + userID)
		}
	}
}

func (s *Scheduler) runTransferWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.transferQ:
			s.runner.TransferFile(ctx, job.userID, job.file)
			s.release("transfer:" + job.userID + ":" + job.file.ID)
		}
	}
}
