package api

import "github.com/starford/blobnotes/internal/models"

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
}

// indexView is the data rendered by templates/index.html.
type indexView struct {
	Notes  []models.Note
	EditID int64
}
