// Package noteservice coordinates the note rows and their blobs.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/blobnotes/internal/models"
	"github.com/starford/blobnotes/internal/storage"
)

// Repository is the relational store used by the service.
type Repository interface {
	ListNotes(ctx context.Context) ([]models.Note, error)
	GetNote(ctx context.Context, id int64) (*models.Note, error)
	InsertNote(ctx context.Context, n *models.Note) error
	UpdateNote(ctx context.Context, id int64, title, content string) (bool, error)
	UpdateNoteFile(ctx context.Context, id int64, title, content, filename, fileURL string) (bool, error)
	DeleteNote(ctx context.Context, id int64) (string, error)
	CountFileRefs(ctx context.Context, key string) (int, error)
	EnqueueBlobCleanup(ctx context.Context, t *models.CleanupTask) error
}

// Publisher receives note change notifications.
type Publisher interface {
	PublishNoteEvent(kind string, id int64)
}

// Event kinds.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Service coordinates store and blob operations.
//
// Each mutation performs at most one blob write followed by one SQL
// transaction. When the SQL step fails after a blob was written, the blob
// key is queued for background deletion; when a blob delete fails after a
// row was removed, the key is queued as well. Neither failure mode is
// surfaced as a cross-store error to callers.
type Service struct {
	repo   Repository
	blobs  storage.Provider
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets the change event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides time.Now, used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new note service.
func NewService(repo Repository, blobs storage.Provider, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		blobs:  blobs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns all notes, newest first.
func (s *Service) List(ctx context.Context) ([]models.Note, error) {
	return s.repo.ListNotes(ctx)
}

// Get returns one note.
func (s *Service) Get(ctx context.Context, id int64) (*models.Note, error) {
	return s.repo.GetNote(ctx, id)
}

// OpenFile streams the blob stored under key.
func (s *Service) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.blobs.Get(ctx, key)
}

// Create uploads the optional file, then inserts the row.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Note, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	note := &models.Note{
		Title:     in.Title,
		Content:   in.Content,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	if in.File.present() {
		key := in.File.Filename
		if err := s.blobs.Put(ctx, key, in.File.Body); err != nil {
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}
		url := s.blobs.URL(key)
		note.Filename = &key
		note.FileURL = &url
	}

	if err := s.repo.InsertNote(ctx, note); err != nil {
		if note.HasFile() {
			s.compensate(ctx, *note.Filename, opID, err)
		}
		return nil, err
	}

	s.logger.Info("note created",
		slog.Int64("note_id", note.ID),
		slog.Bool("has_file", note.HasFile()),
		slog.String("op_id", opID))
	s.publish(EventCreated, note.ID)
	return note, nil
}

// Update rewrites title and content, and the file when one is supplied.
// Updating a missing id is a no-op. A blob previously stored under a
// different key is left in place.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	opID := uuid.NewString()

	if !in.File.present() {
		found, err := s.repo.UpdateNote(ctx, id, in.Title, in.Content)
		if err != nil {
			return err
		}
		s.afterUpdate(id, found, opID)
		return nil
	}

	key := in.File.Filename
	if err := s.blobs.Put(ctx, key, in.File.Body); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	found, err := s.repo.UpdateNoteFile(ctx, id, in.Title, in.Content, key, s.blobs.URL(key))
	if err != nil {
		s.compensate(ctx, key, opID, err)
		return err
	}
	if !found {
		// Nothing references the fresh upload.
		s.compensate(ctx, key, opID, errors.New("note not found"))
	}
	s.afterUpdate(id, found, opID)
	return nil
}

func (s *Service) afterUpdate(id int64, found bool, opID string) {
	if !found {
		s.logger.Debug("update of missing note ignored", slog.Int64("note_id", id), slog.String("op_id", opID))
		return
	}
	s.logger.Info("note updated", slog.Int64("note_id", id), slog.String("op_id", opID))
	s.publish(EventUpdated, id)
}

// Delete removes the row, then makes a best-effort attempt to remove its
// blob. Blob failures are logged and queued, never returned.
func (s *Service) Delete(ctx context.Context, id int64) error {
	key, err := s.repo.DeleteNote(ctx, id)
	if err != nil {
		return err
	}
	opID := uuid.NewString()
	s.logger.Info("note deleted", slog.Int64("note_id", id), slog.String("op_id", opID))
	s.publish(EventDeleted, id)

	if key == "" {
		return nil
	}

	refs, err := s.repo.CountFileRefs(ctx, key)
	switch {
	case err != nil:
		s.enqueue(ctx, key, models.CleanupReasonDelete, opID, err)
		return nil
	case refs > 0:
		s.logger.Info("blob still referenced, kept",
			slog.String("blob_key", key), slog.Int("refs", refs), slog.String("op_id", opID))
		return nil
	}

	if err := s.blobs.Delete(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("blob already gone", slog.String("blob_key", key), slog.String("op_id", opID))
			return nil
		}
		s.logger.Warn("blob deletion failed",
			slog.String("blob_key", key),
			slog.String("op_id", opID),
			slog.String("error", err.Error()))
		s.enqueue(ctx, key, models.CleanupReasonDelete, opID, err)
		return nil
	}
	s.logger.Info("blob deleted", slog.String("blob_key", key), slog.String("op_id", opID))
	return nil
}

// compensate queues a blob written by a failed row write.
func (s *Service) compensate(ctx context.Context, key, opID string, cause error) {
	s.logger.Warn("row write failed after upload, compensating",
		slog.String("blob_key", key),
		slog.String("op_id", opID),
		slog.String("error", cause.Error()))
	s.enqueue(ctx, key, models.CleanupReasonCompensate, opID, cause)
}

func (s *Service) enqueue(ctx context.Context, key, reason, opID string, cause error) {
	task := &models.CleanupTask{
		BlobKey:   key,
		Reason:    reason,
		OpID:      opID,
		LastError: cause.Error(),
	}
	// The request context may already be cancelled; the task must still land.
	if err := s.repo.EnqueueBlobCleanup(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Error("orphaned blob, cleanup not queued",
			slog.String("blob_key", key),
			slog.String("reason", reason),
			slog.String("op_id", opID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("blob cleanup queued",
		slog.String("blob_key", key),
		slog.String("reason", reason),
		slog.Int64("task_id", task.ID),
		slog.String("op_id", opID))
}

func (s *Service) publish(kind string, id int64) {
	if s.events != nil {
		s.events.PublishNoteEvent(kind, id)
	}
}
