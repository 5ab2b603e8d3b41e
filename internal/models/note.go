// Package models defines the domain types for blobnotes.
package models

import "time"

// Note is a single text note with an optional attached file.
// Filename and FileURL are either both set or both nil.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Filename  *string   `json:"filename"`
	FileURL   *string   `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
}

// HasFile reports whether a blob key is recorded for the note.
func (n *Note) HasFile() bool {
	return n.Filename != nil && *n.Filename != ""
}

// CleanupTask is a pending blob deletion recorded for background retry.
type CleanupTask struct {
	ID        int64
	BlobKey   string
	Reason    string // "compensate" or "delete"
	OpID      string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cleanup reasons.
const (
	CleanupReasonCompensate = "compensate"
	CleanupReasonDelete     = "delete"
)
