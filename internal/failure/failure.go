// Package failure defines the classified failure value attached to every
// handled sync error. The four policy fields are evaluated together wherever
// a failure surfaces: applying them is a pure function of the value, never
// control flow hidden in raise/catch.
package failure

import (
	"errors"
	"fmt"

	"github.com/sshz/workbin-syncer/pkg/utils"
)

// Failure is a fully classified sync error.
type Failure struct {
	// Retry false means the engine permanently gives up; for files the id
	// is marked synced so it is never attempted again.
	Retry bool
	// NotifyUser true emails the user; false routes to operators only.
	NotifyUser bool
	// DisableUser true halts all future scheduling until re-enabled.
	DisableUser bool
	// LogoutTarget true clears the destination (moved to LastTarget) and
	// resets its settings, forcing re-authorization.
	LogoutTarget bool

	Subject string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Subject, f.Err)
	}
	return f.Subject
}

func (f *Failure) Unwrap() error { return f.Err }

// As extracts a classified failure from an error chain.
func As(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CredentialExpired reports an unusable destination credential or target
// configuration. The user must re-authorize, so everything trips.
func CredentialExpired(target string, err error) *Failure {
	return &Failure{
		Retry:        true,
		NotifyUser:   true,
		DisableUser:  true,
		LogoutTarget: true,
		Subject:      "Destination authorization expired",
		Message: fmt.Sprintf("Your %s authorization is no longer valid. "+
			"Syncing has been paused. Please reconnect your destination on the dashboard, "+
			"then re-enable syncing.", targetLabel(target)),
		Err: err,
	}
}

// NoDestination reports that the user enabled syncing without connecting a
// destination. Nothing to log out of.
func NoDestination() *Failure {
	return &Failure{
		Retry:       true,
		NotifyUser:  true,
		DisableUser: true,
		Subject:     "No destination connected",
		Message: "Syncing is enabled but no storage destination is connected. " +
			"Syncing has been paused. Please connect a destination on the dashboard, " +
			"then re-enable syncing.",
	}
}

// QuotaExceeded reports a destination-side quota or rate limit. The
// destination stays authorized; the user has cleanup to do.
func QuotaExceeded(target string, err error) *Failure {
	return &Failure{
		Retry:       true,
		NotifyUser:  true,
		DisableUser: true,
		Subject:     "Destination out of space",
		Message: fmt.Sprintf("Your %s destination rejected an upload because of a quota or "+
			"rate limit. Syncing has been paused. Please free up space, then re-enable syncing.",
			targetLabel(target)),
		Err: err,
	}
}

// MalformedRequest reports a request the destination could not parse. That is
// an operator bug, not the user's fault; the user hears nothing.
func MalformedRequest(err error) *Failure {
	return &Failure{
		Retry:   true,
		Subject: "Malformed destination request",
		Err:     err,
	}
}

// Oversized reports a file beyond the effective size ceiling. Never retried:
// the id is marked synced so the user is warned exactly once, with a link to
// fetch the file by hand.
func Oversized(path, link string, size, limit int64) *Failure {
	return &Failure{
		NotifyUser: true,
		Subject:    "File too large to sync",
		Message: fmt.Sprintf("The file %s (%s) exceeds the %s sync limit and was skipped. "+
			"It will not be retried. You can download it manually here: %s",
			path, utils.FormatSize(size), utils.FormatSize(limit), link),
	}
}

// UpstreamUnknown reports an unrecognized content-source error. The upstream
// is known to misbehave intermittently, so this never costs the user a
// disabled account; operators hear about it instead.
func UpstreamUnknown(err error) *Failure {
	return &Failure{
		Retry:   true,
		Subject: "Unrecognized content-source error",
		Err:     err,
	}
}

func targetLabel(target string) string {
	if target == "" {
		return "storage"
	}
	return target
}
