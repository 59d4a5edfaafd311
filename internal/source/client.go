// Package source speaks the content source's read API: module workbin trees
// and file downloads, authenticated by an API key plus a per-user session
// token. The protocol is fixed upstream; this client only consumes it.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/models"
	"github.com/sshz/workbin-syncer/pkg/utils"
)

const invalidLoginComment = "Invalid login!"

// Client talks to the content source.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// New builds a client from configuration.
func New(cfg config.Source, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.WithComponent(logger, "source"),
	}
}

type envelope struct {
	Comments string          `json:"Comments"`
	Results  json.RawMessage `json:"Results"`
}

type workbin struct {
	Title   string   `json:"Title"`
	Folders []folder `json:"Folders"`
}

type folder struct {
	FolderName  string       `json:"FolderName"`
	AllowUpload bool         `json:"AllowUpload"`
	Folders     []folder     `json:"Folders"`
	Files       []remoteFile `json:"Files"`
}

type remoteFile struct {
	ID       string `json:"ID"`
	FileName string `json:"FileName"`
	FileSize int64  `json:"FileSize"`
}

// ValidateToken checks whether the user's session token is still accepted.
// The upstream intermittently misbehaves, so unknown errors are treated as
// "session presumed fine, retry later" rather than "logged out".
func (c *Client) ValidateToken(ctx context.Context, u *models.User) bool {
	env, err := c.get(ctx, "/profile", url.Values{"token": {u.SourceToken}})
	if err != nil {
		c.logger.Warn("token validation inconclusive, presuming valid",
			slog.String("user", u.ID), slog.String("error", err.Error()))
		return true
	}
	return env.Comments != invalidLoginComment
}

// ListAllFiles walks every subscribed module's workbin tree into a flat,
// destination-relative file list. Backup/lock artifacts are skipped; folders
// the user's uploadable-only policy excludes are not recursed into.
func (c *Client) ListAllFiles(ctx context.Context, u *models.User) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	for _, mod := range u.Modules {
		env, err := c.get(ctx, "/workbins", url.Values{
			"token":     {u.SourceToken},
			"module_id": {mod.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("list workbins for module %s: %w", mod.Code, err)
		}
		if env.Comments == invalidLoginComment {
			return nil, fmt.Errorf("list workbins for module %s: session rejected", mod.Code)
		}

		var bins []workbin
		if err := json.Unmarshal(env.Results, &bins); err != nil {
			return nil, fmt.Errorf("decode workbins for module %s: %w", mod.Code, err)
		}
		for _, bin := range bins {
			for _, f := range bin.Folders {
				files = c.walkFolder(f, []string{mod.Code}, u.UploadableFolderOnly, files)
			}
		}
	}
	return files, nil
}

func (c *Client) walkFolder(f folder, parents []string, uploadableOnly bool, files []models.RemoteFile) []models.RemoteFile {
	if uploadableOnly && !f.AllowUpload {
		return files
	}
	segments := append(append([]string{}, parents...), f.FolderName)
	for _, file := range f.Files {
		if utils.IsIgnoredFile(file.FileName) {
			continue
		}
		files = append(files, models.RemoteFile{
			ID:   file.ID,
			Path: utils.JoinPath(append(segments, file.FileName)...),
			Size: file.FileSize,
		})
	}
	for _, sub := range f.Folders {
		files = c.walkFolder(sub, segments, uploadableOnly, files)
	}
	return files
}

// FileURL returns a fetch handle for a file; bytes are pulled lazily by the
// destination driver at transfer time.
func (c *Client) FileURL(u *models.User, fileID string) string {
	q := url.Values{"apikey": {c.apiKey}, "token": {u.SourceToken}}
	return fmt.Sprintf("%s/files/%s/download?%s", c.baseURL, url.PathEscape(fileID), q.Encode())
}

// OpenFile starts streaming a file's bytes.
func (c *Client) OpenFile(ctx context.Context, u *models.User, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(u, fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*envelope, error) {
	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &env, nil
}
