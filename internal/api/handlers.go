package api

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/blobnotes/internal/apperr"
	"github.com/starford/blobnotes/internal/noteservice"
)

//go:embed templates/*.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Handler holds the note route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// noteID parses the {id} route parameter. The route pattern already
// restricts it to digits, so only overflow can fail here.
func noteID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

// writeMutationError maps service errors of the form routes to plain text.
func writeMutationError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, apperr.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Error(op+" failed", slog.String("error", err.Error()))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Index handles GET /. An integer edit_id query opens that note in edit
// mode; anything else is ignored.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.List(r.Context())
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := indexView{Notes: notes}
	if v, err := strconv.ParseInt(r.URL.Query().Get("edit_id"), 10, 64); err == nil {
		view.EditID = v
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, view); err != nil {
		slog.Error("render index failed", slog.String("error", err.Error()))
	}
}

// AddNote handles POST /add.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := readNoteForm(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cleanup()

	if _, err := h.svc.Create(r.Context(), in); err != nil {
		writeMutationError(w, "create note", err)
		return
	}
	redirectHome(w, r)
}

// EditNote handles GET /edit/{id}. It does not touch the store.
func (h *Handler) EditNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/?edit_id="+strconv.FormatInt(id, 10), http.StatusFound)
}

// UpdateNote handles POST /update/{id}.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	in, cleanup, err := readNoteForm(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cleanup()

	if err := h.svc.Update(r.Context(), id, in); err != nil {
		writeMutationError(w, "update note", err)
		return
	}
	redirectHome(w, r)
}

// DeleteNote handles POST /delete/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeMutationError(w, "delete note", err)
		return
	}
	redirectHome(w, r)
}

// ListNotes handles GET /api/notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.List(r.Context())
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	note, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get note failed", slog.Int64("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}
