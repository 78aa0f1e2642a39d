package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/xferd/internal/model"
)

const uploadColumns = `id, profile_id, bucket, prefix, staging_dir, created_at, expires_at`

// CreateUploadSession creates a new upload session.
func (r *Repository) CreateUploadSession(ctx context.Context, u model.UploadSession) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO upload_sessions (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ProfileID, u.Bucket, u.Prefix, u.StagingDir, u.CreatedAt.Unix(), u.ExpiresAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: upload_sessions.") {
			return fmt.Errorf("upload session already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert upload session: %w", err)
	}
	return nil
}

// GetUploadSession retrieves an upload session of a profile.
func (r *Repository) GetUploadSession(ctx context.Context, profileID, id string) (*model.UploadSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM upload_sessions WHERE profile_id = ? AND id = ?`, profileID, id)
	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload session %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query upload session: %w", err)
	}
	return &u, nil
}

// UploadSessionExists returns true if the upload session exists.
func (r *Repository) UploadSessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM upload_sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("could not query upload session: %w", err)
	}
	return n > 0, nil
}

// ListExpiredUploadSessions returns at most limit sessions expired at now.
func (r *Repository) ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]model.UploadSession, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM upload_sessions WHERE expires_at < ? ORDER BY expires_at ASC LIMIT ?`,
		now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("could not query upload sessions: %w", err)
	}
	defer rows.Close()

	us := []model.UploadSession{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		us = append(us, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return us, nil
}

// DeleteUploadSession deletes an upload session.
func (r *Repository) DeleteUploadSession(ctx context.Context, profileID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE profile_id = ? AND id = ?`, profileID, id)
	if err != nil {
		return fmt.Errorf("could not delete upload session: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("upload session %s", id))
}

func scanUpload(s scanner) (model.UploadSession, error) {
	var (
		u                    model.UploadSession
		createdAt, expiresAt int64
	)
	if err := s.Scan(&u.ID, &u.ProfileID, &u.Bucket, &u.Prefix, &u.StagingDir, &createdAt, &expiresAt); err != nil {
		return model.UploadSession{}, err
	}
	u.CreatedAt = timeFromUnix(createdAt)
	u.ExpiresAt = timeFromUnix(expiresAt)
	return u, nil
}

// ClearObjectIndex removes all the indexed objects of a bucket.
func (r *Repository) ClearObjectIndex(ctx context.Context, profileID, bucket string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM object_index WHERE profile_id = ? AND bucket = ?`, profileID, bucket); err != nil {
		return fmt.Errorf("could not clear object index: %w", err)
	}
	return nil
}

// UpsertObjectIndexBatch inserts or replaces indexed objects of a bucket in a
// single transaction.
func (r *Repository) UpsertObjectIndexBatch(ctx context.Context, profileID, bucket string, entries []model.ObjectIndexEntry, indexedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO object_index (profile_id, bucket, object_key, size, etag, last_modified, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, bucket, object_key) DO UPDATE SET
			size = excluded.size,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("could not prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, profileID, bucket, e.Key, e.Size, e.ETag, unixOrNil(e.LastModified), indexedAt.Unix()); err != nil {
			return fmt.Errorf("could not upsert object %q: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// CountObjectIndex returns the number of indexed objects of a bucket.
func (r *Repository) CountObjectIndex(ctx context.Context, profileID, bucket string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM object_index WHERE profile_id = ? AND bucket = ?`, profileID, bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count object index: %w", err)
	}
	return n, nil
}
