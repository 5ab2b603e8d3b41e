package noteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/blobnotes/internal/apperr"
	"github.com/starford/blobnotes/internal/models"
	"github.com/starford/blobnotes/internal/notedb"
	"github.com/starford/blobnotes/internal/testutil"
)

var errRowWrite = errors.New("row write failed")

// flakyRepo wraps the real store and fails row writes on demand.
type flakyRepo struct {
	*notedb.DB
	failInsert  bool
	failUpdate  bool
	failEnqueue bool
}

func (r *flakyRepo) EnqueueBlobCleanup(ctx context.Context, t *models.CleanupTask) error {
	if r.failEnqueue {
		return errors.New("queue unavailable")
	}
	return r.DB.EnqueueBlobCleanup(ctx, t)
}

func (r *flakyRepo) InsertNote(ctx context.Context, n *models.Note) error {
	if r.failInsert {
		return errRowWrite
	}
	return r.DB.InsertNote(ctx, n)
}

func (r *flakyRepo) UpdateNoteFile(ctx context.Context, id int64, title, content, filename, fileURL string) (bool, error) {
	if r.failUpdate {
		return false, errRowWrite
	}
	return r.DB.UpdateNoteFile(ctx, id, title, content, filename, fileURL)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishNoteEvent(kind string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

type env struct {
	svc    *Service
	repo   *flakyRepo
	blobs  *testutil.FlakyBlobs
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := &flakyRepo{DB: testutil.TestDB(t)}
	blobs := testutil.NewFlakyBlobs(testutil.TestBlobs(t))
	events := &recorder{}

	// Strictly increasing clock so created_at ordering is deterministic.
	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	svc := NewService(repo, blobs, WithPublisher(events), WithClock(now))
	return &env{svc: svc, repo: repo, blobs: blobs, events: events}
}

func file(name, body string) *Upload {
	return &Upload{Filename: name, Body: strings.NewReader(body)}
}

func pending(t *testing.T, e *env) []models.CleanupTask {
	t.Helper()
	tasks, err := e.repo.PendingBlobCleanups(context.Background(), 100, 100)
	require.NoError(t, err)
	return tasks
}

func TestScenario_CreateUpdateDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.ID)
	assert.Nil(t, n.Filename)

	require.NoError(t, e.svc.Update(ctx, 1, UpdateInput{Title: "B", Content: "y"}))
	got, err := e.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)
	assert.Equal(t, "y", got.Content)
	assert.Nil(t, got.Filename)
	assert.Nil(t, got.FileURL)

	require.NoError(t, e.svc.Delete(ctx, 1))
	notes, err := e.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes)

	assert.Equal(t, []string{EventCreated, EventUpdated, EventDeleted}, e.events.events)
}

func TestCreate_WithFile(t *testing.T) {
	e := newEnv(t)
	payload := []byte("\x89PNG binary \x00 payload")

	n, err := e.svc.Create(context.Background(), CreateInput{
		Title:   "pic",
		Content: "see file",
		File:    &Upload{Filename: "photo.png", Body: bytes.NewReader(payload)},
	})
	require.NoError(t, err)
	require.NotNil(t, n.Filename)
	assert.Equal(t, "photo.png", *n.Filename)
	require.NotNil(t, n.FileURL)
	assert.Equal(t, "/files/photo.png", *n.FileURL)

	assert.Equal(t, payload, testutil.ReadBlob(t, e.blobs, "photo.png"))

	stored, err := e.svc.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", *stored.Filename)
}

func TestCreate_EmptyFilenameMeansNoFile(t *testing.T) {
	e := newEnv(t)
	n, err := e.svc.Create(context.Background(), CreateInput{
		Title: "t", Content: "c", File: &Upload{Filename: "", Body: strings.NewReader("")},
	})
	require.NoError(t, err)
	assert.Nil(t, n.Filename)
	assert.Nil(t, n.FileURL)
}

func TestCreate_ValidationRejectsBeforeMutation(t *testing.T) {
	e := newEnv(t)
	cases := []CreateInput{
		{Title: "", Content: "c"},
		{Title: "t", Content: ""},
		{Title: "   ", Content: "c", File: file("a.txt", "x")},
	}
	for _, in := range cases {
		_, err := e.svc.Create(context.Background(), in)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	notes, _ := e.svc.List(context.Background())
	assert.Empty(t, notes)
	assert.False(t, testutil.Exists(t, e.blobs, "a.txt"))
}

func TestCreate_UploadFailureInsertsNothing(t *testing.T) {
	e := newEnv(t)
	e.blobs.FailPut(true)

	_, err := e.svc.Create(context.Background(), CreateInput{Title: "t", Content: "c", File: file("a.txt", "x")})
	require.ErrorIs(t, err, testutil.ErrInjected)

	notes, _ := e.svc.List(context.Background())
	assert.Empty(t, notes)
	assert.Empty(t, pending(t, e))
}

func TestCreate_InsertFailureQueuesCompensation(t *testing.T) {
	e := newEnv(t)
	e.repo.failInsert = true

	_, err := e.svc.Create(context.Background(), CreateInput{Title: "t", Content: "c", File: file("orphan.txt", "x")})
	require.ErrorIs(t, err, errRowWrite)

	tasks := pending(t, e)
	require.Len(t, tasks, 1)
	assert.Equal(t, "orphan.txt", tasks[0].BlobKey)
	assert.Equal(t, models.CleanupReasonCompensate, tasks[0].Reason)
	assert.NotEmpty(t, tasks[0].OpID)
	assert.Empty(t, e.events.events)
}

func TestCreate_EnqueueFailureLogsOrphan(t *testing.T) {
	e := newEnv(t)
	e.repo.failInsert = true
	e.repo.failEnqueue = true

	var logs bytes.Buffer
	svc := NewService(e.repo, e.blobs, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	_, err := svc.Create(context.Background(), CreateInput{Title: "t", Content: "c", File: file("lost.txt", "x")})
	require.ErrorIs(t, err, errRowWrite)
	assert.Empty(t, pending(t, e))

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["msg"] == "orphaned blob, cleanup not queued" {
			entry = m
		}
	}
	require.NotNil(t, entry, "expected orphan log line in %s", logs.String())
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "lost.txt", entry["blob_key"])
	assert.NotEmpty(t, entry["op_id"])
}

func TestList_NewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, title := range []string{"one", "two", "three"} {
		_, err := e.svc.Create(ctx, CreateInput{Title: title, Content: "c"})
		require.NoError(t, err)
	}

	notes, err := e.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "three", notes[0].Title)
	for i := 1; i < len(notes); i++ {
		assert.False(t, notes[i].CreatedAt.After(notes[i-1].CreatedAt), "order must be non-increasing")
	}
}

func TestUpdate_WithoutFileKeepsFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("keep.txt", "data")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Update(ctx, n.ID, UpdateInput{Title: "B", Content: "y"}))

	got, err := e.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)
	assert.Equal(t, "y", got.Content)
	assert.Equal(t, *n.Filename, *got.Filename)
	assert.Equal(t, *n.FileURL, *got.FileURL)
	assert.True(t, n.CreatedAt.Equal(got.CreatedAt), "created_at must not change")
}

func TestUpdate_NewKeyLeavesOldBlob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("old.txt", "old")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Update(ctx, n.ID, UpdateInput{Title: "A", Content: "x", File: file("new.txt", "new")}))

	got, err := e.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "new.txt", *got.Filename)
	assert.Equal(t, "/files/new.txt", *got.FileURL)
	assert.Equal(t, []byte("new"), testutil.ReadBlob(t, e.blobs, "new.txt"))

	// Known gap: the previous blob is not removed.
	assert.True(t, testutil.Exists(t, e.blobs, "old.txt"))
	assert.Empty(t, pending(t, e))
}

func TestUpdate_SameKeyOverwrites(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("doc.txt", "v1")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Update(ctx, n.ID, UpdateInput{Title: "A", Content: "x", File: file("doc.txt", "v2")}))
	assert.Equal(t, []byte("v2"), testutil.ReadBlob(t, e.blobs, "doc.txt"))
}

func TestUpdate_MissingIDIsNoop(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Update(context.Background(), 404, UpdateInput{Title: "B", Content: "y"}))
	notes, _ := e.svc.List(context.Background())
	assert.Empty(t, notes)
	assert.Empty(t, e.events.events)
}

func TestUpdate_MissingIDWithFileQueuesUpload(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Update(context.Background(), 404, UpdateInput{Title: "B", Content: "y", File: file("stray.txt", "x")}))

	tasks := pending(t, e)
	require.Len(t, tasks, 1)
	assert.Equal(t, "stray.txt", tasks[0].BlobKey)
}

func TestUpdate_RowFailureQueuesCompensation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x"})
	require.NoError(t, err)

	e.repo.failUpdate = true
	err = e.svc.Update(ctx, n.ID, UpdateInput{Title: "B", Content: "y", File: file("late.txt", "x")})
	require.ErrorIs(t, err, errRowWrite)

	tasks := pending(t, e)
	require.Len(t, tasks, 1)
	assert.Equal(t, "late.txt", tasks[0].BlobKey)
	assert.Equal(t, models.CleanupReasonCompensate, tasks[0].Reason)
}

func TestUpdate_Validation(t *testing.T) {
	e := newEnv(t)
	err := e.svc.Update(context.Background(), 1, UpdateInput{Title: "B"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDelete_RemovesRowAndBlob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("gone.txt", "x")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, n.ID))

	_, err = e.svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, testutil.Exists(t, e.blobs, "gone.txt"))
	assert.Empty(t, pending(t, e))
}

func TestDelete_BlobFailureIsSwallowedAndQueued(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("stuck.txt", "x")})
	require.NoError(t, err)

	e.blobs.FailDelete(true)
	require.NoError(t, e.svc.Delete(ctx, n.ID))

	_, err = e.svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.True(t, testutil.Exists(t, e.blobs, "stuck.txt"))

	tasks := pending(t, e)
	require.Len(t, tasks, 1)
	assert.Equal(t, "stuck.txt", tasks[0].BlobKey)
	assert.Equal(t, models.CleanupReasonDelete, tasks[0].Reason)
}

func TestDelete_BlobAlreadyGone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("vanished.txt", "x")})
	require.NoError(t, err)
	require.NoError(t, e.blobs.Provider.Delete(ctx, "vanished.txt"))

	require.NoError(t, e.svc.Delete(ctx, n.ID))
	assert.Empty(t, pending(t, e))
}

func TestDelete_SharedKeyKept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.svc.Create(ctx, CreateInput{Title: "A", Content: "x", File: file("shared.txt", "a")})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Title: "B", Content: "y", File: file("shared.txt", "b")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, a.ID))

	// Overwrite semantics: both notes point at one blob holding the last upload.
	assert.Equal(t, []byte("b"), testutil.ReadBlob(t, e.blobs, "shared.txt"))
	assert.Empty(t, e.blobs.Deletes())
}

func TestDelete_MissingID(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Delete(context.Background(), 12345))
	assert.Empty(t, e.blobs.Deletes())
}
