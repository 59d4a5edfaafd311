package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// webdavMaxFileSize keeps single uploads well below what typical WebDAV
// servers accept in one PUT.
const webdavMaxFileSize = 10 * 1024 * 1024 * 1024

// WebDAV mirrors files into a WebDAV share. Settings keys: url, username,
// password, root. Unlike S3 the destination is hierarchical, so parent
// folders must be resolved before a PUT; resolution for a given parent path
// runs under a keyed mutex so sibling files racing through an unresolved
// folder cannot create duplicates. A per-path revision cursor (remote mtime)
// recorded in the settings makes repeated transfers of the same path no-ops.
type WebDAV struct {
	logger *slog.Logger

	mu          sync.Mutex
	folderLocks map[string]*sync.Mutex
}

func newWebDAV(logger *slog.Logger) *WebDAV {
	return &WebDAV{
		logger:      logger,
		folderLocks: make(map[string]*sync.Mutex),
	}
}

func (d *WebDAV) Name() string { return "webdav" }

func (d *WebDAV) MaxFileSize() int64 { return webdavMaxFileSize }

func (d *WebDAV) ValidateSettings(ctx context.Context, settings *models.TargetSettings) error {
	client, err := d.client(settings)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return d.classify(err)
	}
	root := settings.Get("root")
	if root != "" {
		if _, err := client.Stat(root); err != nil {
			return d.classify(err)
		}
	}
	return nil
}

func (d *WebDAV) Transfer(ctx context.Context, settings *models.TargetSettings, obj Object) error {
	client, err := d.client(settings)
	if err != nil {
		return err
	}

	target := path.Join("/", settings.Get("root"), obj.Path)

	// Repeated transfer of a path we already delivered: skip the write when
	// the remote still matches our cursor.
	if rev := settings.Revision(target); rev != "" {
		if info, err := client.Stat(target); err == nil && revisionOf(info.ModTime()) == rev {
			return nil
		}
	}

	if err := d.ensureParent(client, settings.Get("url"), path.Dir(target)); err != nil {
		return err
	}

	body, err := obj.Open(ctx)
	if err != nil {
		return failure.UpstreamUnknown(fmt.Errorf("fetch %s: %w", obj.Path, err))
	}
	defer body.Close()

	if err := client.WriteStream(target, body, 0o644); err != nil {
		return d.classify(err)
	}

	if info, err := client.Stat(target); err == nil {
		settings.SetRevision(target, revisionOf(info.ModTime()))
	}
	d.logger.Debug("uploaded file", slog.String("path", target))
	return nil
}

// ensureParent creates the parent folder chain. All resolution for one
// parent path is serialized on a keyed mutex; two transfers for sibling
// files discover the missing folder one at a time.
func (d *WebDAV) ensureParent(client *gowebdav.Client, base, parent string) error {
	if parent == "/" || parent == "." || parent == "" {
		return nil
	}

	lock := d.folderLock(base + "|" + parent)
	lock.Lock()
	defer lock.Unlock()

	if _, err := client.Stat(parent); err == nil {
		return nil
	}
	if err := client.MkdirAll(parent, 0o755); err != nil {
		return d.classify(err)
	}
	return nil
}

func (d *WebDAV) folderLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.folderLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.folderLocks[key] = lock
	}
	return lock
}

func (d *WebDAV) client(settings *models.TargetSettings) (*gowebdav.Client, error) {
	url := settings.Get("url")
	username := settings.Get("username")
	password := settings.Get("password")
	if url == "" || username == "" {
		return nil, failure.CredentialExpired("webdav", fmt.Errorf("incomplete webdav settings"))
	}
	return gowebdav.NewClient(url, username, password), nil
}

// classify maps WebDAV status codes onto the failure quad.
func (d *WebDAV) classify(err error) error {
	switch status := statusOf(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure.CredentialExpired("webdav", err)
	case status == http.StatusInsufficientStorage || status == http.StatusTooManyRequests:
		return failure.QuotaExceeded("webdav", err)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return failure.MalformedRequest(err)
	default:
		return failure.UpstreamUnknown(err)
	}
}

func statusOf(err error) int {
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	// gowebdav wraps some responses in plain path errors; sniff the text.
	msg := err.Error()
	for _, status := range []int{401, 403, 429, 507, 400, 415} {
		if strings.Contains(msg, fmt.Sprintf("%d", status)) {
			return status
		}
	}
	return 0
}

func revisionOf(mtime time.Time) string {
	return mtime.UTC().Format(time.RFC3339Nano)
}
