package notedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/blobnotes/internal/models"
)

// EnqueueBlobCleanup records a blob key for background deletion.
func (db *DB) EnqueueBlobCleanup(ctx context.Context, t *models.CleanupTask) error {
	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO blob_cleanup (blob_key, reason, op_id, attempts, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, t.BlobKey, t.Reason, t.OpID, t.Attempts, t.LastError, now, now).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("notedb: enqueue blob cleanup: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = now, now
		return nil
	})
}

// PendingBlobCleanups returns up to limit tasks that have been tried fewer
// than maxAttempts times, oldest first.
func (db *DB) PendingBlobCleanups(ctx context.Context, maxAttempts, limit int) ([]models.CleanupTask, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, blob_key, reason, op_id, attempts, last_error, created_at, updated_at
		FROM blob_cleanup
		WHERE attempts < $1
		ORDER BY id
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("notedb: pending blob cleanups: %w", err)
	}
	defer rows.Close()

	var out []models.CleanupTask
	for rows.Next() {
		var t models.CleanupTask
		if err := rows.Scan(&t.ID, &t.BlobKey, &t.Reason, &t.OpID, &t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("notedb: scan blob cleanup: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteBlobCleanup removes a finished task.
func (db *DB) CompleteBlobCleanup(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blob_cleanup WHERE id = $1`, id); err != nil {
			return fmt.Errorf("notedb: complete blob cleanup: %w", err)
		}
		return nil
	})
}

// FailBlobCleanup bumps the attempt counter and stores the last error.
func (db *DB) FailBlobCleanup(ctx context.Context, id int64, msg string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE blob_cleanup SET attempts = attempts + 1, last_error = $1, updated_at = $2
			WHERE id = $3
		`, msg, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("notedb: fail blob cleanup: %w", err)
		}
		return nil
	})
}
