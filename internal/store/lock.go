package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sshz/workbin-syncer/pkg/models"
)

const (
	// lockTTL bounds how long a crashed worker can hold a user hostage.
	lockTTL = 30 * time.Second

	lockRetryDelay = 25 * time.Millisecond
)

// WithLock runs fn while holding the user's mutual-exclusion lease. The
// record passed to fn is reloaded after acquisition, so fn always sees the
// freshest state; when fn returns nil the mutated record is written back
// before the lease is released. This is the only supported way to mutate a
// user record.
func (s *Store) WithLock(ctx context.Context, userID string, fn func(*models.User) error) error {
	owner := uuid.NewString()
	if err := s.acquireLock(ctx, userID, owner); err != nil {
		return err
	}
	defer s.releaseLock(userID, owner)

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	return s.PutUser(ctx, u)
}

// acquireLock takes the lease for userID, stealing it if a previous owner's
// lease has expired. Blocks until acquired or ctx is done.
func (s *Store) acquireLock(ctx context.Context, userID, owner string) error {
	for {
		now := time.Now().UnixMilli()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO user_locks (user_id, owner, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE
				SET owner = excluded.owner, expires_at = excluded.expires_at
				WHERE user_locks.expires_at <= ?
		`, userID, owner, now+lockTTL.Milliseconds(), now)
		if err != nil {
			return fmt.Errorf("acquire lock for %s: %w", userID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("acquire lock for %s: %w", userID, err)
		}
		if affected > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock for %s: %w", userID, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

// releaseLock drops the lease only if we still own it; an expired-and-stolen
// lease belongs to someone else now.
func (s *Store) releaseLock(userID, owner string) {
	_, _ = s.db.Exec(`DELETE FROM user_locks WHERE user_id = ? AND owner = ?`, userID, owner)
}
