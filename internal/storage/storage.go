package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates that a job record could not be located in the backing store.
var ErrNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a render job.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Valid reports whether the status is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobRunning, JobDone, JobFailed:
		return true
	default:
		return false
	}
}

// JobRecord tracks one (client id, job id) submission.
type JobRecord struct {
	ClientID    string    `json:"client_id"`
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	UploadID    string    `json:"upload_id,omitempty"`
	CacheKey    string    `json:"cache_key,omitempty"`
	ResultRef   string    `json:"result_ref,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	MIME        string    `json:"mime,omitempty"`
	Temporary   bool      `json:"temporary,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// JobStore defines the persistence behaviors the job tracker relies on.
// Writes are plain upserts: concurrent writers to the same record race and
// the last one wins.
type JobStore interface {
	GetJob(ctx context.Context, clientID, jobID string) (JobRecord, error)
	PutJob(ctx context.Context, record JobRecord) error
	Close()
}

// Options selects and configures a JobStore.
type Options struct {
	DatabaseURL string
	Redis       *redis.Client
	RedisTTL    time.Duration
}

// NewJobStore picks PostgreSQL when a database URL is given, Redis when a
// client is given, and memory otherwise.
func NewJobStore(ctx context.Context, opts Options) (JobStore, error) {
	if opts.DatabaseURL != "" {
		return NewPostgresJobStore(ctx, opts.DatabaseURL)
	}
	if opts.Redis != nil {
		return NewRedisJobStore(opts.Redis, "", opts.RedisTTL), nil
	}
	return NewInMemoryJobStore(), nil
}

// NewPostgresJobStore connects, pings and ensures the schema exists.
func NewPostgresJobStore(ctx context.Context, databaseURL string) (*PostgresJobStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresJobStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS render_jobs (
        client_id TEXT NOT NULL,
        job_id TEXT NOT NULL,
        status TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ,
        upload_id TEXT,
        cache_key TEXT,
        result_ref TEXT,
        storage_path TEXT,
        mime TEXT,
        temporary BOOLEAN NOT NULL DEFAULT false,
        error TEXT,
        PRIMARY KEY (client_id, job_id)
    )`)
	if err != nil {
		return fmt.Errorf("create render_jobs table: %w", err)
	}

	var schemaAlters = []string{
		`CREATE INDEX IF NOT EXISTS render_jobs_started_idx ON render_jobs (started_at)`,
	}
	for _, stmt := range schemaAlters {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("alter render_jobs table: %w", err)
		}
	}

	return nil
}
