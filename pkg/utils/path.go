package utils

import "strings"

// ignorePrefixes matches backup/lock artifacts the content source leaves in
// workbin folders; they are never worth mirroring.
var ignorePrefixes = []string{"~$", ".~lock."}

// IsIgnoredFile reports whether a remote filename is a backup/lock artifact.
func IsIgnoredFile(name string) bool {
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return strings.HasSuffix(name, "~")
}

// SanitizeSegment neutralizes characters that could make a module code or
// folder title escape its path segment at the destination.
func SanitizeSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "/", "_")
	segment = strings.ReplaceAll(segment, "\\", "_")
	segment = strings.ReplaceAll(segment, "..", "_")
	return strings.TrimSpace(segment)
}

// JoinPath builds a destination-relative path from already-ordered segments,
// sanitizing each and dropping empties.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = SanitizeSegment(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return "/" + strings.Join(parts, "/")
}
