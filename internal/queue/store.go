// Package queue implements the engine's C2 queue store: an embedded ACID
// relational store with two tables (jobs, run_locks) exposing enqueue,
// claim, ack, fail, touch, stats, cancel, and recover operations. All
// mutation goes through this package's transactional API; it is the only
// shared mutable resource workers coordinate through.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Phase is one stage of the five-phase pipeline.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseTest      Phase = "test"
	PhasePR        Phase = "pr"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const timestampLayout = time.RFC3339Nano

// Job mirrors one row of the jobs table.
type Job struct {
	ID        int64
	RunID     string
	Phase     Phase
	Status    Status
	Attempt   int
	CreatedAt time.Time
	UpdatedAt time.Time
	LastError string
}

// Stats summarizes queue occupancy, used for submitter warnings and the
// status CLI.
type Stats struct {
	Queued     int
	InProgress int
	LeaseCount int
}

// RecoverResult reports the work done by RecoverStale.
type RecoverResult struct {
	RequeuedJobs   int
	ReleasedLeases int
}

// Store wraps an embedded SQLite database holding the jobs and run_locks
// tables. LeaseTimeout governs both AcquireLease staleness and
// RecoverStale's sweep window.
type Store struct {
	db           *sql.DB
	LeaseTimeout time.Duration
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and returns a ready Store. _txlock=immediate makes
// every transaction take SQLite's write lock up front, which is what makes
// ClaimOne's select-then-update atomic under concurrent callers instead of
// racing on a deferred lock.
func Open(path string, leaseTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping queue database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, LeaseTimeout: leaseTimeout}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowString() string {
	return time.Now().UTC().Format(timestampLayout)
}

// parseTimestamp parses a stored timestamp; an unparseable value is treated
// as the zero time, which reads as infinitely stale — the safe direction
// per the queue store's staleness rule.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Enqueue inserts one queued row for run_id/phase with attempt=0. It does
// not enforce "at most one queued/in_progress job per run" — the worker is
// responsible for enqueuing the next phase only after the current one acks.
func (s *Store) Enqueue(ctx context.Context, runID string, phase Phase) (int64, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}
	now := nowString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, phase, status, attempt, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		runID, string(phase), string(StatusQueued), now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s/%s: %w", runID, phase, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s/%s: read inserted id: %w", runID, phase, err)
	}
	return id, nil
}

// ClaimOne atomically claims the oldest queued job (FIFO, ties broken by
// id) and returns it with status=in_progress and attempt incremented. It
// returns (nil, nil) when no queued job exists.
func (s *Store) ClaimOne(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	row := tx.QueryRowContext(ctx,
		`SELECT id, run_id, phase, status, attempt, created_at, updated_at, last_error
		 FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(StatusQueued))

	var (
		job                  Job
		phase, status        string
		createdAt, updatedAt string
		lastError            sql.NullString
	)
	if err := row.Scan(&job.ID, &job.RunID, &phase, &status, &job.Attempt, &createdAt, &updatedAt, &lastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim: select: %w", err)
	}

	now := nowString()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempt = attempt + 1, updated_at = ? WHERE id = ?`,
		string(StatusInProgress), now, job.ID,
	); err != nil {
		return nil, fmt.Errorf("claim: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim: commit: %w", err)
	}

	job.Phase = Phase(phase)
	job.Status = StatusInProgress
	job.Attempt++
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(now)
	job.LastError = lastError.String
	return &job, nil
}

// Requeue resets a job back to queued, used when the run lease for its job
// cannot be acquired.
func (s *Store) Requeue(ctx context.Context, jobID int64) error {
	return s.setStatus(ctx, jobID, StatusQueued, "")
}

// MarkDone transitions a job to done.
func (s *Store) MarkDone(ctx context.Context, jobID int64) error {
	return s.setStatus(ctx, jobID, StatusDone, "")
}

// MarkFailed transitions a job to failed and records the error message.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, message string) error {
	return s.setStatus(ctx, jobID, StatusFailed, message)
}

func (s *Store) setStatus(ctx context.Context, jobID int64, status Status, lastError string) error {
	now := nowString()
	var res sql.Result
	var err error
	if lastError != "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ?, last_error = ? WHERE id = ?`,
			string(status), now, lastError, jobID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, jobID)
	}
	if err != nil {
		return fmt.Errorf("set status %s on job %d: %w", status, jobID, err)
	}
	return checkRowsAffected(res, jobID)
}

func checkRowsAffected(res sql.Result, jobID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for job %d: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return nil
}

// Touch bumps a job's updated_at without changing its status; used by the
// worker heartbeat.
func (s *Store) Touch(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, nowString(), jobID)
	if err != nil {
		return fmt.Errorf("touch job %d: %w", jobID, err)
	}
	return checkRowsAffected(res, jobID)
}

// CancelRun marks every queued or in_progress job of a run as cancelled.
func (s *Store) CancelRun(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrRunIDRequired
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE run_id = ? AND status IN (?, ?)`,
		string(StatusCancelled), nowString(), runID, string(StatusQueued), string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

// AcquireLease grants run_id's lease to owner, inserting a new row when
// none exists or stealing an expired one. It returns false without error
// when another owner holds an unexpired lease.
func (s *Store) AcquireLease(ctx context.Context, runID, owner string) (bool, error) {
	if runID == "" {
		return false, ErrRunIDRequired
	}
	if owner == "" {
		return false, ErrOwnerRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("acquire lease: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	row := tx.QueryRowContext(ctx, `SELECT locked_at FROM run_locks WHERE run_id = ?`, runID)
	var lockedAt string
	now := nowString()
	switch err := row.Scan(&lockedAt); {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_locks (run_id, locked_at, owner) VALUES (?, ?, ?)`,
			runID, now, owner,
		); err != nil {
			return false, fmt.Errorf("acquire lease: insert: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("acquire lease: select: %w", err)
	default:
		if time.Now().UTC().Sub(parseTimestamp(lockedAt)) <= s.LeaseTimeout {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE run_locks SET owner = ?, locked_at = ? WHERE run_id = ?`,
			owner, now, runID,
		); err != nil {
			return false, fmt.Errorf("acquire lease: steal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("acquire lease: commit: %w", err)
	}
	return true, nil
}

// ReleaseLease deletes the lease row iff owner currently holds it.
func (s *Store) ReleaseLease(ctx context.Context, runID, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id = ? AND owner = ?`, runID, owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", runID, err)
	}
	return nil
}

// TouchLease bumps locked_at iff owner currently holds the lease.
func (s *Store) TouchLease(ctx context.Context, runID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_locks SET locked_at = ? WHERE run_id = ? AND owner = ?`,
		nowString(), runID, owner)
	if err != nil {
		return fmt.Errorf("touch lease %s: %w", runID, err)
	}
	return nil
}

// ForceReleaseLease unconditionally deletes a run's lease row, used by the
// cancellation path.
func (s *Store) ForceReleaseLease(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("force release lease %s: %w", runID, err)
	}
	return nil
}

// LeaseInfo reports the current lease holder and last-touch time for a run,
// used by the status CLI to show staleness relative to LeaseTimeout. ok is
// false when the run holds no lease.
func (s *Store) LeaseInfo(ctx context.Context, runID string) (owner string, lockedAt time.Time, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner, locked_at FROM run_locks WHERE run_id = ?`, runID)
	var lockedAtStr string
	switch scanErr := row.Scan(&owner, &lockedAtStr); {
	case errors.Is(scanErr, sql.ErrNoRows):
		return "", time.Time{}, false, nil
	case scanErr != nil:
		return "", time.Time{}, false, fmt.Errorf("lease info %s: %w", runID, scanErr)
	}
	return owner, parseTimestamp(lockedAtStr), true, nil
}

// Stats reports queue occupancy: queued jobs, in-progress jobs, and active
// leases.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM jobs WHERE status = ?),
			(SELECT COUNT(*) FROM jobs WHERE status = ?),
			(SELECT COUNT(*) FROM run_locks)`,
		string(StatusQueued), string(StatusInProgress))
	if err := row.Scan(&stats.Queued, &stats.InProgress, &stats.LeaseCount); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// RecoverStale requeues in_progress jobs whose updated_at is older than
// LeaseTimeout and deletes every lease that is either stale itself or
// belongs to a run_id whose job was just recovered. Both deletion paths are
// independent and intentional: either condition alone is enough to release
// a lease. The whole sweep runs in one transaction, the single
// linearization point that restores "every live in_progress job has a live
// lease" after commit. Idempotent: a clean state returns {0, 0}.
func (s *Store) RecoverStale(ctx context.Context) (RecoverResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	cutoff := time.Now().UTC().Add(-s.LeaseTimeout).Format(timestampLayout)

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT run_id FROM jobs WHERE status = ? AND updated_at <= ?`,
		string(StatusInProgress), cutoff)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: select stale jobs: %w", err)
	}
	var staleRunIDs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			rows.Close()
			return RecoverResult{}, fmt.Errorf("recover stale: scan run_id: %w", err)
		}
		staleRunIDs = append(staleRunIDs, runID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return RecoverResult{}, fmt.Errorf("recover stale: iterate stale jobs: %w", err)
	}
	rows.Close()

	requeueRes, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, last_error = COALESCE(last_error, ?)
		 WHERE status = ? AND updated_at <= ?`,
		string(StatusQueued), nowString(), "Recovered stale in_progress job.",
		string(StatusInProgress), cutoff)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: requeue: %w", err)
	}
	requeued, err := requeueRes.RowsAffected()
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: requeue rows affected: %w", err)
	}

	staleLeaseRes, err := tx.ExecContext(ctx, `DELETE FROM run_locks WHERE locked_at <= ?`, cutoff)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: delete stale leases: %w", err)
	}
	released, err := staleLeaseRes.RowsAffected()
	if err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: stale lease rows affected: %w", err)
	}

	for _, runID := range staleRunIDs {
		res, err := tx.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id = ?`, runID)
		if err != nil {
			return RecoverResult{}, fmt.Errorf("recover stale: delete recovered-run lease: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return RecoverResult{}, fmt.Errorf("recover stale: recovered-run lease rows affected: %w", err)
		}
		released += n
	}

	if err := tx.Commit(); err != nil {
		return RecoverResult{}, fmt.Errorf("recover stale: commit: %w", err)
	}

	return RecoverResult{RequeuedJobs: int(requeued), ReleasedLeases: int(released)}, nil
}
