package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
)

func TestOperatorPostsToNtfyTopic(t *testing.T) {
	var gotTitle, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Operator.NtfyTopic = srv.URL
	s := NewService(cfg, logging.NewNop())

	s.Operator(context.Background(), "scan failed", "user u1: upstream 502")

	assert.Equal(t, "Workbin Syncer: scan failed", gotTitle)
	assert.Equal(t, "user u1: upstream 502", gotBody)
}

func TestOperatorWithoutChannelIsNoop(t *testing.T) {
	s := NewService(config.Default(), logging.NewNop())
	// Must not panic or block.
	s.Operator(context.Background(), "subject", "body")
}

func TestUserWithoutSMTPIsNoop(t *testing.T) {
	s := NewService(config.Default(), logging.NewNop())
	require.Nil(t, s.mailer)
	s.User(context.Background(), "a@example.edu", "subject", "body")
}
