package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJobStore persists job records in PostgreSQL.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

// GetJob loads one record.
func (s *PostgresJobStore) GetJob(ctx context.Context, clientID, jobID string) (JobRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT client_id, job_id, status, started_at, finished_at, upload_id, cache_key, result_ref, storage_path, mime, temporary, error
         FROM render_jobs WHERE client_id = $1 AND job_id = $2`, clientID, jobID)

	var (
		rec        JobRecord
		status     string
		finishedAt *time.Time
		uploadID   *string
		cacheKey   *string
		resultRef  *string
		path       *string
		mime       *string
		failure    *string
	)
	if err := row.Scan(&rec.ClientID, &rec.JobID, &status, &rec.StartedAt, &finishedAt, &uploadID, &cacheKey, &resultRef, &path, &mime, &rec.Temporary, &failure); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobRecord{}, ErrNotFound
		}
		return JobRecord{}, fmt.Errorf("select job: %w", err)
	}
	rec.Status = JobStatus(status)
	if finishedAt != nil {
		rec.FinishedAt = *finishedAt
	}
	rec.UploadID = deref(uploadID)
	rec.CacheKey = deref(cacheKey)
	rec.ResultRef = deref(resultRef)
	rec.StoragePath = deref(path)
	rec.MIME = deref(mime)
	rec.Error = deref(failure)
	return rec, nil
}

// PutJob upserts the record; the last writer wins.
func (s *PostgresJobStore) PutJob(ctx context.Context, rec JobRecord) error {
	var finishedAt *time.Time
	if !rec.FinishedAt.IsZero() {
		finishedAt = &rec.FinishedAt
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO render_jobs (client_id, job_id, status, started_at, finished_at, upload_id, cache_key, result_ref, storage_path, mime, temporary, error)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
         ON CONFLICT (client_id, job_id) DO UPDATE SET
            status = EXCLUDED.status,
            started_at = EXCLUDED.started_at,
            finished_at = EXCLUDED.finished_at,
            upload_id = EXCLUDED.upload_id,
            cache_key = EXCLUDED.cache_key,
            result_ref = EXCLUDED.result_ref,
            storage_path = EXCLUDED.storage_path,
            mime = EXCLUDED.mime,
            temporary = EXCLUDED.temporary,
            error = EXCLUDED.error`,
		rec.ClientID, rec.JobID, string(rec.Status), rec.StartedAt, finishedAt, rec.UploadID, rec.CacheKey,
		rec.ResultRef, rec.StoragePath, rec.MIME, rec.Temporary, rec.Error); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *PostgresJobStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
