package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lucidarc/observatory/internal/platform"
)

// Store provides raw-SQL persistence for jobs against platform.DBTX, the
// narrow Exec/Query/QueryRow surface common to *pgxpool.Pool and pgx.Tx.
type Store struct {
	dbtx platform.DBTX
}

// NewStore creates a job Store backed by the given database connection.
func NewStore(dbtx platform.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const jobColumns = `id, owner_fingerprint, owner_tier, status, conversation_text, options,
	result, error_kind, error_message, created_at, started_at, finished_at,
	expires_at, cancel_requested`

type jobRow struct {
	optionsRaw []byte
	resultRaw  []byte
	errKind    *string
	errMessage *string
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var r jobRow
	err := row.Scan(
		&j.ID, &j.OwnerFingerprint, &j.OwnerTier, &j.Status, &j.ConversationText, &r.optionsRaw,
		&r.resultRaw, &r.errKind, &r.errMessage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.ExpiresAt, &j.CancelRequested,
	)
	if err != nil {
		return Job{}, err
	}
	return hydrate(j, r)
}

func hydrate(j Job, r jobRow) (Job, error) {
	if len(r.optionsRaw) > 0 {
		if err := json.Unmarshal(r.optionsRaw, &j.Options); err != nil {
			return Job{}, fmt.Errorf("decoding job options: %w", err)
		}
	}
	if len(r.resultRaw) > 0 {
		var res Result
		if err := json.Unmarshal(r.resultRaw, &res); err != nil {
			return Job{}, fmt.Errorf("decoding job result: %w", err)
		}
		j.Result = &res
	}
	if r.errKind != nil {
		j.Error = &JobError{Kind: *r.errKind, Message: derefStr(r.errMessage)}
	}
	return j, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ErrNotFound is returned when a job lookup matches no row.
var ErrNotFound = fmt.Errorf("job not found")

// Create inserts a new pending job and returns the stored row.
func (s *Store) Create(ctx context.Context, ownerFingerprint, ownerTier string, conversationText string, opts Options, expiresAt time.Time) (Job, error) {
	optsRaw, err := json.Marshal(opts)
	if err != nil {
		return Job{}, fmt.Errorf("encoding job options: %w", err)
	}
	query := `INSERT INTO jobs (
		owner_fingerprint, owner_tier, status, conversation_text, options, expires_at
	) VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + jobColumns
	row := s.dbtx.QueryRow(ctx, query, ownerFingerprint, ownerTier, StatusPending, conversationText, optsRaw, expiresAt)
	return scanJob(row)
}

// Get returns a single job by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("getting job: %w", err)
	}
	return j, nil
}

// ListParams filters a keyset-paginated job listing (spec.md §4.5, §12 list
// endpoint).
type ListParams struct {
	OwnerFingerprint string
	Status           *Status
	Before           *time.Time // exclusive upper bound on created_at, for the cursor
	BeforeID         *uuid.UUID
	Limit            int
}

// List returns jobs owned by OwnerFingerprint, most recent first, honoring
// an optional status filter and a keyset cursor.
func (s *Store) List(ctx context.Context, p ListParams) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_fingerprint = $1`
	args := []any{p.OwnerFingerprint}
	argN := 2

	if p.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, *p.Status)
		argN++
	}
	if p.Before != nil && p.BeforeID != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, *p.Before, *p.BeforeID)
		argN += 2
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argN)
	args = append(args, p.Limit)

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var items []Job
	for rows.Next() {
		var j Job
		var r jobRow
		if err := rows.Scan(
			&j.ID, &j.OwnerFingerprint, &j.OwnerTier, &j.Status, &j.ConversationText, &r.optionsRaw,
			&r.resultRaw, &r.errKind, &r.errMessage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
			&j.ExpiresAt, &j.CancelRequested,
		); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		hydrated, err := hydrate(j, r)
		if err != nil {
			return nil, err
		}
		items = append(items, hydrated)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return items, nil
}

// PendingRef is the minimal projection Sweep needs to re-enqueue a job it
// didn't learn about through a direct Enqueue call.
type PendingRef struct {
	ID       uuid.UUID
	Priority Priority
}

// ListPendingForSweep returns up to limit pending jobs, oldest first. It
// backs the dispatcher's periodic sweep (spec.md §9 "pluggable stores"): a
// worker started independently of the API process, or one recovering after
// a restart that dropped its in-process queue, discovers work through the
// shared store rather than only through the process that created it.
// Re-enqueuing a job already claimed by another worker is harmless — Claim
// is the sole arbiter and the loser abandons silently (spec.md §4.4).
func (s *Store) ListPendingForSweep(ctx context.Context, limit int) ([]PendingRef, error) {
	query := `SELECT id, options FROM jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := s.dbtx.Query(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs for sweep: %w", err)
	}
	defer rows.Close()

	var out []PendingRef
	for rows.Next() {
		var id uuid.UUID
		var optsRaw []byte
		if err := rows.Scan(&id, &optsRaw); err != nil {
			return nil, fmt.Errorf("scanning pending job for sweep: %w", err)
		}
		var opts Options
		if len(optsRaw) > 0 {
			if err := json.Unmarshal(optsRaw, &opts); err != nil {
				return nil, fmt.Errorf("decoding pending job options for sweep: %w", err)
			}
		}
		out = append(out, PendingRef{ID: id, Priority: opts.Priority})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending jobs for sweep: %w", err)
	}
	return out, nil
}

// Claim atomically transitions id from pending to running and returns it.
// Returns ErrNotFound if the job is no longer pending — another worker won
// the race, or it was already cancelled/timed out; callers abandon silently
// in that case (spec.md §4.4: "claim is the arbiter; losers observe and
// exit"). Priority ordering happens in the dispatcher's in-process queue,
// not here: by the time Claim is called the id has already been selected.
func (s *Store) Claim(ctx context.Context, id uuid.UUID) (Job, error) {
	query := `UPDATE jobs SET status = $1, started_at = now()
	WHERE id = $2 AND status = $3
	RETURNING ` + jobColumns
	j, err := scanJob(s.dbtx.QueryRow(ctx, query, StatusRunning, id, StatusPending))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("claiming job: %w", err)
	}
	return j, nil
}

// Complete records a successful result and marks the job completed,
// recomputing expires_at = finished_at + result_ttl (spec.md §3).
func (s *Store) Complete(ctx context.Context, id uuid.UUID, result Result, resultTTL time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding job result: %w", err)
	}
	now := time.Now()
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE jobs SET status = $1, result = $2, finished_at = $3, expires_at = $4
		WHERE id = $5 AND status = $6`,
		StatusCompleted, raw, now, now.Add(resultTTL), id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a job-resident error and marks the job failed, recomputing
// expires_at = finished_at + result_ttl (spec.md §3).
func (s *Store) Fail(ctx context.Context, id uuid.UUID, jobErr JobError, resultTTL time.Duration) error {
	now := time.Now()
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE jobs SET status = $1, error_kind = $2, error_message = $3, finished_at = $4, expires_at = $5
		WHERE id = $6 AND status = $7`,
		StatusFailed, jobErr.Kind, jobErr.Message, now, now.Add(resultTTL), id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel flags a non-terminal job for cancellation. The dispatcher
// checks CancelRequested at its checkpoints; the reaper or claimant moves
// the status to cancelled.
func (s *Store) RequestCancel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE jobs SET cancel_requested = true
		WHERE id = $1 AND status IN ($2, $3)`,
		id, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("requesting job cancellation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCancelled transitions a job to cancelled, scrubs its conversation
// text immediately (spec.md §12 open question #2: cancelled jobs drop
// conversation_text at the moment of cancellation, not at TTL expiry), and
// recomputes expires_at = finished_at + cancelled_ttl (spec.md §3).
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID, cancelledTTL time.Duration) error {
	now := time.Now()
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE jobs SET status = $1, conversation_text = '', finished_at = $2, expires_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		StatusCancelled, now, now.Add(cancelledTTL), id, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("marking job cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reap performs the three periodic maintenance passes the TTL contract
// requires (spec.md §3 Lifecycle, §4.3):
//  1. jobs stuck pre-terminal past pending_ttl without progress are failed
//     with kind=timeout;
//  2. jobs whose cancellation was requested but never observed by a
//     dispatcher checkpoint (e.g. its worker crashed) are cancelled;
//  3. any row whose expires_at has passed is deleted outright ("removed by
//     TTL reaper" — status=expired exists in the type for schema
//     completeness but is never persisted; terminal rows age out by
//     deletion, not by a visible status transition).
//
// It returns counts by action for metrics.
func (s *Store) Reap(ctx context.Context, now time.Time, resultTTL, cancelledTTL time.Duration) (timedOut int, cancelled int, deleted int, err error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE jobs SET status = $1, error_kind = $2, error_message = $3, finished_at = $4, expires_at = $5
		WHERE status IN ($6, $7) AND cancel_requested = false AND expires_at <= $4`,
		StatusFailed, "timeout", "analysis did not complete before its deadline", now, now.Add(resultTTL),
		StatusPending, StatusRunning,
	)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("reaping timed-out jobs: %w", err)
	}
	timedOut = int(tag.RowsAffected())

	tag, err = s.dbtx.Exec(ctx,
		`UPDATE jobs SET status = $1, conversation_text = '', finished_at = $2, expires_at = $3
		WHERE status IN ($4, $5) AND cancel_requested = true`,
		StatusCancelled, now, now.Add(cancelledTTL), StatusPending, StatusRunning,
	)
	if err != nil {
		return timedOut, 0, 0, fmt.Errorf("reaping cancel-requested jobs: %w", err)
	}
	cancelled = int(tag.RowsAffected())

	tag, err = s.dbtx.Exec(ctx, `DELETE FROM jobs WHERE expires_at <= $1`, now)
	if err != nil {
		return timedOut, cancelled, 0, fmt.Errorf("deleting expired jobs: %w", err)
	}
	deleted = int(tag.RowsAffected())

	return timedOut, cancelled, deleted, nil
}
