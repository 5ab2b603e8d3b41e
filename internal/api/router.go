package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/blobnotes/internal/noteservice"
)

// NewRouter creates a chi router with the HTML form routes, the JSON read
// API and the blob download proxy mounted.
// sseHandler, if non-nil, is mounted at GET /api/events.
func NewRouter(svc *noteservice.Service, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	fh := NewFileHandler(svc)

	r := chi.NewRouter()

	// Form flow.
	r.Get("/", h.Index)
	r.Post("/add", h.AddNote)
	r.Get("/edit/{id:[0-9]+}", h.EditNote)
	r.Post("/update/{id:[0-9]+}", h.UpdateNote)
	r.Post("/delete/{id:[0-9]+}", h.DeleteNote)

	// Blob proxy.
	r.Get("/files/*", fh.ServeFile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/notes", h.ListNotes)
		r.Get("/notes/{id:[0-9]+}", h.GetNote)
		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
