package notedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/blobnotes/internal/apperr"
	"github.com/starford/blobnotes/internal/models"
)

const noteColumns = `id, title, content, filename, file_url, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (models.Note, error) {
	var (
		n        models.Note
		filename sql.NullString
		fileURL  sql.NullString
	)
	if err := s.Scan(&n.ID, &n.Title, &n.Content, &filename, &fileURL, &n.CreatedAt); err != nil {
		return models.Note{}, err
	}
	if filename.Valid {
		n.Filename = &filename.String
	}
	if fileURL.Valid {
		n.FileURL = &fileURL.String
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return n, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ListNotes returns every note, newest first.
func (db *DB) ListNotes(ctx context.Context) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("notedb: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("notedb: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetNote returns the note with the given id or apperr.ErrNotFound.
func (db *DB) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("notedb: get note: %w", err)
	}
	return &n, nil
}

// InsertNote inserts n and sets its generated ID.
func (db *DB) InsertNote(ctx context.Context, n *models.Note) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO notes (title, content, filename, file_url, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, n.Title, n.Content, nullable(n.Filename), nullable(n.FileURL), n.CreatedAt).Scan(&n.ID)
		if err != nil {
			return fmt.Errorf("notedb: insert note: %w", err)
		}
		return nil
	})
}

// UpdateNote sets title and content, leaving filename and file_url untouched.
// It reports whether a row with that id existed.
func (db *DB) UpdateNote(ctx context.Context, id int64, title, content string) (bool, error) {
	var found bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET title = $1, content = $2 WHERE id = $3`,
			title, content, id)
		if err != nil {
			return fmt.Errorf("notedb: update note: %w", err)
		}
		found, err = affected(res)
		return err
	})
	return found, err
}

// UpdateNoteFile sets title, content, filename and file_url.
func (db *DB) UpdateNoteFile(ctx context.Context, id int64, title, content, filename, fileURL string) (bool, error) {
	var found bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET title = $1, content = $2, filename = $3, file_url = $4 WHERE id = $5`,
			title, content, filename, fileURL, id)
		if err != nil {
			return fmt.Errorf("notedb: update note file: %w", err)
		}
		found, err = affected(res)
		return err
	})
	return found, err
}

// DeleteNote removes the note and returns the blob key it referenced, if any.
// Deleting a missing id is not an error.
func (db *DB) DeleteNote(ctx context.Context, id int64) (string, error) {
	var filename sql.NullString
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT filename FROM notes WHERE id = $1`, id).Scan(&filename)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notedb: read filename: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
			return fmt.Errorf("notedb: delete note: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return filename.String, nil
}

// CountFileRefs returns how many notes reference the blob key.
func (db *DB) CountFileRefs(ctx context.Context, key string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM notes WHERE filename = $1`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("notedb: count file refs: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notedb: rows affected: %w", err)
	}
	return n > 0, nil
}
