package driver

import (
	"context"

	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// Null is the driver users get before connecting a destination. Every call
// fails with the same classified failure.
type Null struct{}

func (Null) Name() string { return "none" }

func (Null) MaxFileSize() int64 { return 0 }

func (Null) ValidateSettings(context.Context, *models.TargetSettings) error {
	return failure.NoDestination()
}

func (Null) Transfer(context.Context, *models.TargetSettings, Object) error {
	return failure.NoDestination()
}
