package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/blobnotes/internal/noteservice"
	"github.com/starford/blobnotes/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MB

// readNoteForm reads title, content and the optional "file" part. Both
// urlencoded and multipart bodies are accepted. The returned cleanup func
// releases the uploaded file and must always be called on success.
func readNoteForm(w http.ResponseWriter, r *http.Request) (noteservice.NoteInput, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return noteservice.NoteInput{}, noop, errors.New("file too large or invalid multipart")
		}
		if err := r.ParseForm(); err != nil {
			return noteservice.NoteInput{}, noop, errors.New("invalid form body")
		}
	}

	in := noteservice.NoteInput{
		Title:   r.FormValue("title"),
		Content: r.FormValue("content"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return in, noop, nil
	case err != nil:
		return noteservice.NoteInput{}, noop, errors.New("unreadable 'file' field")
	}

	in.File = &noteservice.Upload{Filename: header.Filename, Body: file}
	return in, func() {
		file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}, nil
}

// inlineTypes may render in the browser on this origin. Anything else,
// notably HTML and SVG, is served as a download.
var inlineTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

func inlineSafe(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && inlineTypes[mt]
}

// FileHandler streams blobs through the configured provider.
type FileHandler struct {
	svc *noteservice.Service
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(svc *noteservice.Service) *FileHandler {
	return &FileHandler{svc: svc}
}

// ServeFile handles GET /files/{key}.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	rc, err := h.svc.OpenFile(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("open blob failed", slog.String("blob_key", key), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr := w.Header()
	hdr.Set("Content-Type", ct)
	hdr.Set("X-Content-Type-Options", "nosniff")
	if !inlineSafe(ct) {
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("blob stream interrupted", slog.String("blob_key", key), slog.String("error", err.Error()))
	}
}
