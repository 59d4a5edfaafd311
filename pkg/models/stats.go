package models

// Stats summarizes one user's sync state
type Stats struct {
	UserID      string
	Email       string
	Enabled     bool
	Target      string
	LastTarget  string
	Modules     int
	SyncedFiles int
}
