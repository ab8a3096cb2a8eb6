package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"roomRenderAi/internal/storage"
)

// DefaultStaleAfter is how long a running record blocks resubmission.
const DefaultStaleAfter = 3 * time.Minute

// State is the tracker's view of an existing record.
type State int

const (
	// StateAbsent covers missing, stale, failed and malformed records.
	StateAbsent State = iota
	StateInProgress
	StateDone
)

// Existing is returned by CheckExisting.
type Existing struct {
	State  State
	Record storage.JobRecord
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	UploadID    string
	CacheKey    string
	StartedAt   time.Time
	ResultRef   string
	StoragePath string
	MIME        string
	Temporary   bool
	Failure     string
}

// Result reports a best-effort write. Callers may discard it.
type Result struct {
	Err error
}

// OK reports whether the write went through.
func (r Result) OK() bool { return r.Err == nil }

// Tracker deduplicates retried submissions of the same (client, job) pair.
// It takes no locks: two racing submissions can both start, and the last
// write to the record wins.
type Tracker struct {
	store      storage.JobStore
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewTracker builds a tracker. A nil store disables tracking.
func NewTracker(store storage.JobStore, staleAfter time.Duration, logger *zap.Logger) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, staleAfter: staleAfter, now: time.Now, logger: logger.Named("jobs")}
}

// WithClock replaces the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	if t == nil {
		return time.Now()
	}
	return t.now()
}

// Begin writes a running record.
func (t *Tracker) Begin(ctx context.Context, clientID, jobID, uploadID, cacheKey string) Result {
	if t == nil || t.store == nil {
		return Result{Err: errors.New("jobs: tracking disabled")}
	}
	err := t.store.PutJob(ctx, storage.JobRecord{
		ClientID:  clientID,
		JobID:     jobID,
		Status:    storage.JobRunning,
		StartedAt: t.now().UTC(),
		UploadID:  uploadID,
		CacheKey:  cacheKey,
	})
	if err != nil {
		t.logger.Warn("job begin write failed", zap.String("client_id", clientID), zap.String("job_id", jobID), zap.Error(err))
	}
	return Result{Err: err}
}

// CheckExisting classifies the stored record for the pair. Read errors are
// treated as no record.
func (t *Tracker) CheckExisting(ctx context.Context, clientID, jobID string) Existing {
	if t == nil || t.store == nil {
		return Existing{State: StateAbsent}
	}
	rec, err := t.store.GetJob(ctx, clientID, jobID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("job read failed, treating as absent", zap.String("client_id", clientID), zap.String("job_id", jobID), zap.Error(err))
		}
		return Existing{State: StateAbsent}
	}

	switch rec.Status {
	case storage.JobDone:
		if rec.ResultRef == "" {
			return Existing{State: StateAbsent, Record: rec}
		}
		return Existing{State: StateDone, Record: rec}
	case storage.JobRunning:
		if rec.StartedAt.IsZero() || t.now().Sub(rec.StartedAt) >= t.staleAfter {
			return Existing{State: StateAbsent, Record: rec}
		}
		return Existing{State: StateInProgress, Record: rec}
	default:
		return Existing{State: StateAbsent, Record: rec}
	}
}

// Finish writes the terminal record: done when a result is present,
// failed otherwise.
func (t *Tracker) Finish(ctx context.Context, clientID, jobID string, out Outcome) Result {
	if t == nil || t.store == nil {
		return Result{Err: errors.New("jobs: tracking disabled")}
	}
	rec := storage.JobRecord{
		ClientID:    clientID,
		JobID:       jobID,
		Status:      storage.JobDone,
		StartedAt:   out.StartedAt,
		FinishedAt:  t.now().UTC(),
		UploadID:    out.UploadID,
		CacheKey:    out.CacheKey,
		ResultRef:   out.ResultRef,
		StoragePath: out.StoragePath,
		MIME:        out.MIME,
		Temporary:   out.Temporary,
	}
	if out.ResultRef == "" {
		rec.Status = storage.JobFailed
		rec.Error = out.Failure
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	err := t.store.PutJob(ctx, rec)
	if err != nil {
		t.logger.Warn("job finish write failed", zap.String("client_id", clientID), zap.String("job_id", jobID), zap.Error(err))
	}
	return Result{Err: err}
}

// Get returns the raw record, for status queries.
func (t *Tracker) Get(ctx context.Context, clientID, jobID string) (storage.JobRecord, error) {
	if t == nil || t.store == nil {
		return storage.JobRecord{}, storage.ErrNotFound
	}
	return t.store.GetJob(ctx, clientID, jobID)
}
