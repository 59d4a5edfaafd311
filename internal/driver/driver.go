// Package driver implements the destination contract: a closed set of
// storage backends a user's workbin files can be mirrored into. Adding a
// destination means adding a variant here, never touching the engine.
package driver

import (
	"context"
	"io"
	"log/slog"

	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// Object is one file to deliver. Bytes are pulled lazily through Open at
// transfer time; the engine never buffers them.
type Object struct {
	Path string
	Size int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Driver is the capability set each destination implements. Both methods
// report unusable state as a classified *failure.Failure, never a soft
// false. Transfer must be safe to invoke repeatedly for the same path.
type Driver interface {
	Name() string
	MaxFileSize() int64
	ValidateSettings(ctx context.Context, settings *models.TargetSettings) error
	Transfer(ctx context.Context, settings *models.TargetSettings, obj Object) error
}

// Registry hands out the driver variant for a user's selected target.
type Registry struct {
	s3     *S3
	webdav *WebDAV
	null   Null
}

// NewRegistry builds the closed driver set.
func NewRegistry(logger *slog.Logger) *Registry {
	logger = logging.WithComponent(logger, "driver")
	return &Registry{
		s3:     newS3(logger),
		webdav: newWebDAV(logger),
	}
}

// ForTarget returns the driver for a target name. Unknown or empty targets
// get the null driver, which fails every call with a classified failure.
func (r *Registry) ForTarget(name string) Driver {
	switch name {
	case "s3":
		return r.s3
	case "webdav":
		return r.webdav
	default:
		return r.null
	}
}
