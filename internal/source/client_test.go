package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.Source{BaseURL: srv.URL, APIKey: "test-key", RequestTimeout: 5}, logging.NewNop())
}

func testUser() *models.User {
	return &models.User{
		ID:          "u1",
		SourceToken: "tok",
		Modules:     []models.Module{{Code: "CS101", ID: "42"}},
	}
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name     string
		comments string
		status   int
		want     bool
	}{
		{name: "valid session", comments: "Valid login!", status: 200, want: true},
		{name: "rejected session", comments: "Invalid login!", status: 200, want: false},
		{name: "upstream hiccup presumed fine", status: 500, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{"Comments": tt.comments, "Results": []any{}})
			}))
			assert.Equal(t, tt.want, c.ValidateToken(context.Background(), testUser()))
		})
	}
}

func TestListAllFilesWalksTree(t *testing.T) {
	tree := map[string]any{
		"Comments": "Valid login!",
		"Results": []any{
			map[string]any{
				"Title": "CS101 Workbin",
				"Folders": []any{
					map[string]any{
						"FolderName":  "Lectures",
						"AllowUpload": false,
						"Files": []any{
							map[string]any{"ID": "f1", "FileName": "x.pdf", "FileSize": 1000},
							map[string]any{"ID": "f2", "FileName": "~$x.pdf", "FileSize": 10},
						},
						"Folders": []any{
							map[string]any{
								"FolderName":  "Week 1",
								"AllowUpload": true,
								"Files": []any{
									map[string]any{"ID": "f3", "FileName": "intro.pdf", "FileSize": 2000},
								},
							},
						},
					},
				},
			},
		},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workbins", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("module_id"))
		_ = json.NewEncoder(w).Encode(tree)
	}))

	files, err := c.ListAllFiles(context.Background(), testUser())
	require.NoError(t, err)
	assert.Equal(t, []models.RemoteFile{
		{ID: "f1", Path: "/CS101/Lectures/x.pdf", Size: 1000},
		{ID: "f3", Path: "/CS101/Lectures/Week 1/intro.pdf", Size: 2000},
	}, files, "artifact files skipped, nested folders flattened")
}

func TestListAllFilesUploadableOnlySkipsFolder(t *testing.T) {
	tree := map[string]any{
		"Comments": "Valid login!",
		"Results": []any{
			map[string]any{
				"Title": "CS101 Workbin",
				"Folders": []any{
					map[string]any{
						"FolderName":  "Lectures",
						"AllowUpload": false,
						"Files": []any{
							map[string]any{"ID": "f1", "FileName": "x.pdf", "FileSize": 1000},
						},
					},
					map[string]any{
						"FolderName":  "Submissions",
						"AllowUpload": true,
						"Files": []any{
							map[string]any{"ID": "f2", "FileName": "y.pdf", "FileSize": 1000},
						},
					},
				},
			},
		},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tree)
	}))

	u := testUser()
	u.UploadableFolderOnly = true
	files, err := c.ListAllFiles(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f2", files[0].ID)
}

func TestListAllFilesUpstreamErrorPropagates(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.ListAllFiles(context.Background(), testUser())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CS101")
}

func TestFileURLCarriesCredentials(t *testing.T) {
	c := New(config.Source{BaseURL: "https://workbin.example.edu/api", APIKey: "k"}, logging.NewNop())
	got := c.FileURL(testUser(), "f1")
	assert.Contains(t, got, "/files/f1/download")
	assert.Contains(t, got, "apikey=k")
	assert.Contains(t, got, "token=tok")
}
