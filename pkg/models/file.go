package models

// RemoteFile describes one file discovered in the content source. Path is
// destination-relative and already sanitized; ID is stable across scans for
// the same underlying file.
type RemoteFile struct {
	ID   string
	Path string
	Size int64
}
