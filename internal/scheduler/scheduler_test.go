package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/models"
)

type recordingRunner struct {
	mu        sync.Mutex
	scans     []string
	transfers []string
	gate      chan struct{} // when set, jobs block until the gate closes
	done      chan string
}

func (r *recordingRunner) ScanUser(_ context.Context, userID string) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.scans = append(r.scans, userID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- "scan:" + userID
	}
}

func (r *recordingRunner) TransferFile(_ context.Context, userID string, file models.RemoteFile) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.transfers = append(r.transfers, userID+":"+file.ID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- "transfer:" + userID + ":" + file.ID
	}
}

func (r *recordingRunner) scanned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.scans...)
}

type staticLister struct{ ids []string }

func (l staticLister) ListEnabledUsers(context.Context) ([]string, error) { return l.ids, nil }

func testDaemonConfig() config.Daemon {
	return config.Daemon{
		ScanInterval:    3600, // only the immediate first tick fires in tests
		ScanWorkers:     2,
		TransferWorkers: 2,
	}
}

func waitFor(t *testing.T, done chan string, want int) []string {
	t.Helper()
	var got []string
	for i := 0; i < want; i++ {
		select {
		case key := <-done:
			got = append(got, key)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d of %d (got %v)", i+1, want, got)
		}
	}
	return got
}

func TestTickSchedulesOnlyEnabledUsers(t *testing.T) {
	runner := &recordingRunner{done: make(chan string, 8)}
	s := New(staticLister{ids: []string{"u1", "u2"}}, runner, testDaemonConfig(), logging.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, runner.done, 2)
	assert.ElementsMatch(t, []string{"u1", "u2"}, runner.scanned())
}

func TestTriggerUserScanIsIdempotentWhileActive(t *testing.T) {
	gate := make(chan struct{})
	runner := &recordingRunner{gate: gate, done: make(chan string, 8)}
	s := New(staticLister{}, runner, testDaemonConfig(), logging.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, s.TriggerUserScan("u1"))
	// Pending or running: both duplicate triggers must be no-ops.
	assert.False(t, s.TriggerUserScan("u1"))
	assert.False(t, s.TriggerUserScan("u1"))

	close(gate)
	waitFor(t, runner.done, 1)
	assert.Equal(t, []string{"u1"}, runner.scanned(), "queue depth for a key never exceeds one")

	// Once the job finished, the key is free again.
	assert.True(t, s.TriggerUserScan("u1"))
	waitFor(t, runner.done, 1)
}

func TestTriggerFileTransferKeyedPerUserAndFile(t *testing.T) {
	gate := make(chan struct{})
	runner := &recordingRunner{gate: gate, done: make(chan string, 8)}
	s := New(staticLister{}, runner, testDaemonConfig(), logging.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	f1 := models.RemoteFile{ID: "f1", Path: "/CS101/x.pdf", Size: 10}
	f2 := models.RemoteFile{ID: "f2", Path: "/CS101/y.pdf", Size: 10}

	assert.True(t, s.TriggerFileTransfer("u1", f1))
	assert.False(t, s.TriggerFileTransfer("u1", f1), "same key is a no-op")
	assert.True(t, s.TriggerFileTransfer("u1", f2), "different file, different key")
	assert.True(t, s.TriggerFileTransfer("u2", f1), "different user, different key")

	close(gate)
	waitFor(t, runner.done, 3)
}

func TestStopDrainsWorkers(t *testing.T) {
	runner := &recordingRunner{done: make(chan string, 8)}
	s := New(staticLister{ids: []string{"u1"}}, runner, testDaemonConfig(), logging.NewNop())

	require.NoError(t, s.Start(context.Background()))
	waitFor(t, runner.done, 1)
	s.Stop()

	// Triggers after Stop still claim keys but nobody consumes; Start again
	// must be possible.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	runner := &recordingRunner{}
	s := New(staticLister{}, runner, testDaemonConfig(), logging.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
}
