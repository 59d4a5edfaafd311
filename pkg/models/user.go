package models

import "time"

// Module is one content-source module a user has opted into.
type Module struct {
	Code string `json:"code"`
	ID   string `json:"id"`
}

// TargetSettings holds destination-specific configuration. The engine never
// interprets Values; each driver reads the keys it needs. Revisions is a
// per-path cursor some drivers maintain to make repeated transfers of the
// same path safe.
type TargetSettings struct {
	Values    map[string]string `json:"values,omitempty"`
	Revisions map[string]string `json:"revisions,omitempty"`
}

// Get returns the named settings value, or "" when unset.
func (s *TargetSettings) Get(key string) string {
	if s == nil || s.Values == nil {
		return ""
	}
	return s.Values[key]
}

// Set stores a settings value.
func (s *TargetSettings) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
}

// Revision returns the stored cursor for a destination path, or "".
func (s *TargetSettings) Revision(path string) string {
	if s == nil || s.Revisions == nil {
		return ""
	}
	return s.Revisions[path]
}

// SetRevision records the cursor for a destination path.
func (s *TargetSettings) SetRevision(path, rev string) {
	if s.Revisions == nil {
		s.Revisions = make(map[string]string)
	}
	s.Revisions[path] = rev
}

// Reset clears all settings, used when a destination is deauthorized.
func (s *TargetSettings) Reset() {
	s.Values = nil
	s.Revisions = nil
}

// User is the durable sync state for one account, keyed by the stable
// content-source user id.
type User struct {
	ID                   string         `json:"id"`
	Email                string         `json:"email"`
	SourceToken          string         `json:"source_token"`
	Modules              []Module       `json:"modules"`
	Enabled              bool           `json:"enabled"`
	UploadableFolderOnly bool           `json:"uploadable_folder_only"`
	Target               string         `json:"target"`
	LastTarget           string         `json:"last_target"`
	TargetSettings       TargetSettings `json:"target_settings"`
	SyncedFiles          map[string]bool `json:"synced_files"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Synced reports whether a remote file id has already been delivered (or
// permanently given up on).
func (u *User) Synced(fileID string) bool {
	return u.SyncedFiles[fileID]
}

// MarkSynced adds a remote file id to the synced set.
func (u *User) MarkSynced(fileID string) {
	if u.SyncedFiles == nil {
		u.SyncedFiles = make(map[string]bool)
	}
	u.SyncedFiles[fileID] = true
}

// LogoutTarget clears the current destination, remembering it in LastTarget
// so the dashboard can offer a one-click reconnect.
func (u *User) LogoutTarget() {
	if u.Target != "" {
		u.LastTarget = u.Target
	}
	u.Target = ""
	u.TargetSettings.Reset()
}
