package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshz/workbin-syncer/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetUserCreatesLazily(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.False(t, u.Enabled, "fresh users start disabled")
	assert.Empty(t, u.SyncedFiles)

	// Second read returns the persisted row, not a new one.
	u.Email = "a@example.edu"
	require.NoError(t, s.PutUser(ctx, u))
	again, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.edu", again.Email)
}

func TestPutUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.GetUser(ctx, "u2")
	require.NoError(t, err)
	u.Enabled = true
	u.Modules = []models.Module{{Code: "CS101", ID: "42"}}
	u.Target = "s3"
	u.TargetSettings.Set("bucket", "workbin")
	u.TargetSettings.SetRevision("/CS101/x.pdf", "etag-1")
	u.MarkSynced("f1")
	require.NoError(t, s.PutUser(ctx, u))

	got, err := s.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, []models.Module{{Code: "CS101", ID: "42"}}, got.Modules)
	assert.Equal(t, "workbin", got.TargetSettings.Get("bucket"))
	assert.Equal(t, "etag-1", got.TargetSettings.Revision("/CS101/x.pdf"))
	assert.True(t, got.Synced("f1"))
	assert.False(t, got.Synced("f2"))
}

func TestListEnabledUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, enabled := range []bool{true, false, true} {
		u, err := s.GetUser(ctx, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		u.Enabled = enabled
		require.NoError(t, s.PutUser(ctx, u))
	}

	ids, err := s.ListEnabledUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u0", "u2"}, ids)
}

func TestWithLockSerializesConcurrentAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)

	// Two workers race to append different file ids; the reload-then-merge
	// discipline must not lose either.
	var wg sync.WaitGroup
	for _, fid := range []string{"f1", "f2"} {
		wg.Add(1)
		go func(fid string) {
			defer wg.Done()
			err := s.WithLock(ctx, "u1", func(u *models.User) error {
				u.MarkSynced(fid)
				return nil
			})
			assert.NoError(t, err)
		}(fid)
	}
	wg.Wait()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Synced("f1"))
	assert.True(t, u.Synced("f2"))
}

func TestWithLockErrorSkipsWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.Email = "keep@example.edu"
	require.NoError(t, s.PutUser(ctx, u))

	wantErr := fmt.Errorf("boom")
	err = s.WithLock(ctx, "u1", func(u *models.User) error {
		u.Email = "clobbered@example.edu"
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "keep@example.edu", got.Email)
}

func TestWithLockReleasesOnExit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.WithLock(ctx, "u1", func(*models.User) error { return nil }))

	// A second acquisition must not block on the released lease.
	require.NoError(t, s.WithLock(ctx, "u1", func(*models.User) error { return nil }))
}
