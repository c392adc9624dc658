// Package postgres implements the Job Store against PostgreSQL.
// Claim/complete/retry/dead-letter transitions follow a
// claim-with-row-lock, atomic dead-letter move pattern built around a
// generic typed Job. There is no multi-worker ownership handoff beyond the
// status guard: a transaction holding the row lock through Phase A is
// sufficient.
//
// Queries are hand-written database/sql-style pgx calls rather than
// sqlc-generated code: sqlc codegen cannot be re-run in this environment, and
// hand-written queries against a typed domain are a reasonable substitution
// for generated code.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noctua-labs/jobqueue/internal/job"
)

// Store implements job.Store against a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ job.Store = (*Store)(nil)

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Insert(ctx context.Context, j *job.Job) (*job.Job, bool, error) {
	if j.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, false, fmt.Errorf("generate job id: %w", err)
		}
		j.ID = id.String()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}

	const q = `
		INSERT INTO jobs (id, type, payload, status, attempts, max_attempts, idempotency_key)
		VALUES ($1, $2, $3, 'pending', 0, $4, NULLIF($5, ''))
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at`

	idemKey := ""
	if j.IdempotencyKey != nil {
		idemKey = *j.IdempotencyKey
	}

	row := s.pool.QueryRow(ctx, q, j.ID, j.Type, []byte(j.Payload), j.MaxAttempts, idemKey)
	created, err := scanJob(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	// ON CONFLICT DO NOTHING fired: a job with this idempotency key already
	// exists. Return it instead of erroring (matches the idempotent-replay
	// producer contract).
	existing, err := s.findByIdempotencyKey(ctx, idemKey)
	if err != nil {
		return nil, false, fmt.Errorf("load existing idempotent job: %w", err)
	}
	return existing, false, nil
}

func (s *Store) findByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	const q = `
		SELECT id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at
		FROM jobs WHERE idempotency_key = $1`
	row := s.pool.QueryRow(ctx, q, key)
	return scanJob(row)
}

func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	const q = `
		SELECT id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at
		FROM jobs WHERE id = $1`
	j, err := scanJob(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	return j, err
}

func (s *Store) List(ctx context.Context, params job.ListParams) (*job.ListResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var (
		rows pgx.Rows
		err  error
	)
	if params.Status != nil {
		const q = `
			SELECT id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at
			FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = s.pool.Query(ctx, q, string(*params.Status), limit, params.Offset)
	} else {
		const q = `
			SELECT id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at
			FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = s.pool.Query(ctx, q, limit, params.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]*job.Job, 0, limit)
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		items = append(items, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total int
	countQ := "SELECT count(*) FROM jobs"
	args := []any{}
	if params.Status != nil {
		countQ += " WHERE status = $1"
		args = append(args, string(*params.Status))
	}
	if err := s.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	return &job.ListResult{Items: items, Total: total}, nil
}

// Claim implements Phase A: load by id with a row lock inside a
// transaction, verify the status guard, transition to processing.
func (s *Store) Claim(ctx context.Context, id string) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const selectQ = `
		SELECT id, type, payload, status, attempts, max_attempts, error_message, idempotency_key, created_at, updated_at
		FROM jobs WHERE id = $1 FOR UPDATE`
	j, err := scanJob(tx.QueryRow(ctx, selectQ, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job for claim: %w", err)
	}

	if j.Status != job.StatusPending && j.Status != job.StatusRetrying {
		return nil, job.ErrStaleStatus
	}

	const updateQ = `
		UPDATE jobs SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempts, updated_at`
	if err := tx.QueryRow(ctx, updateQ, id).Scan(&j.Attempts, &j.UpdatedAt); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	j.Status = job.StatusProcessing

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return j, nil
}

func (s *Store) Complete(ctx context.Context, id string) error {
	const q = `UPDATE jobs SET status = 'completed', error_message = NULL, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (s *Store) Retry(ctx context.Context, id string, errMsg string) error {
	truncated := job.Truncate(errMsg, job.ErrorMessageMaxLen)
	const q = `UPDATE jobs SET status = 'retrying', error_message = $2, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, truncated)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

// DeadLetter implements the exhausted branch of Phase C: marks the job row
// dead_letter and inserts a DeadLetterJob record in one transaction so
// neither side is left dangling.
func (s *Store) DeadLetter(ctx context.Context, id string, errMsg string) error {
	truncated := job.Truncate(errMsg, job.ErrorMessageMaxLen)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		jobType  string
		payload  []byte
		attempts int
	)
	const selectQ = `SELECT type, payload, attempts FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, id).Scan(&jobType, &payload, &attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrNotFound
		}
		return fmt.Errorf("load job for dead-letter: %w", err)
	}

	const insertDLQ = `
		INSERT INTO dead_letter_jobs (original_job_id, type, payload, error_message, attempts)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insertDLQ, id, jobType, payload, truncated, attempts); err != nil {
		return fmt.Errorf("insert dead-letter row: %w", err)
	}

	const updateJob = `UPDATE jobs SET status = 'dead_letter', error_message = $2, updated_at = now() WHERE id = $1`
	tag, err := tx.Exec(ctx, updateJob, id, truncated)
	if err != nil {
		return fmt.Errorf("mark dead_letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}

	return tx.Commit(ctx)
}

func (s *Store) ListDeadLetter(ctx context.Context, limit int) ([]*job.DeadLetterJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, original_job_id, type, payload, error_message, attempts, failed_at, resolved_at, resolved_by
		FROM dead_letter_jobs WHERE resolved_at IS NULL ORDER BY failed_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*job.DeadLetterJob, 0, limit)
	for rows.Next() {
		var (
			d            job.DeadLetterJob
			originalID   *string
			resolvedAt   *time.Time
			resolvedBy   *string
			payload      []byte
		)
		if err := rows.Scan(&d.ID, &originalID, &d.Type, &payload, &d.ErrorMessage, &d.Attempts, &d.FailedAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, fmt.Errorf("scan dead-letter row: %w", err)
		}
		d.Payload = json.RawMessage(payload)
		if originalID != nil {
			d.OriginalID = *originalID
		}
		d.ResolvedAt = resolvedAt
		d.ResolvedBy = resolvedBy
		out = append(out, &d)
	}
	return out, rows.Err()
}

// RetryDeadLetter creates a fresh pending job with attempts reset to 0:
// a dead-letter retry is a new row, not a revival in place.
func (s *Store) RetryDeadLetter(ctx context.Context, deadLetterID string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin retry tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		jobType string
		payload []byte
	)
	const selectQ = `SELECT type, payload FROM dead_letter_jobs WHERE id = $1 AND resolved_at IS NULL FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, deadLetterID).Scan(&jobType, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", job.ErrDeadLetterNotFound
		}
		return "", fmt.Errorf("load dead-letter job: %w", err)
	}

	newID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate new job id: %w", err)
	}

	const insertQ = `
		INSERT INTO jobs (id, type, payload, status, attempts, max_attempts)
		VALUES ($1, $2, $3, 'pending', 0, $4)`
	if _, err := tx.Exec(ctx, insertQ, newID.String(), jobType, payload, job.DefaultMaxAttempts); err != nil {
		return "", fmt.Errorf("insert replacement job: %w", err)
	}

	const markQ = `UPDATE dead_letter_jobs SET resolved_at = now(), resolution = 'retried' WHERE id = $1`
	tag, err := tx.Exec(ctx, markQ, deadLetterID)
	if err != nil {
		return "", fmt.Errorf("mark dead-letter retried: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", job.ErrDeadLetterNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit retry: %w", err)
	}
	return newID.String(), nil
}

func (s *Store) DiscardDeadLetter(ctx context.Context, deadLetterID, note string) error {
	const q = `
		UPDATE dead_letter_jobs SET resolved_at = now(), resolution = 'discarded', resolved_by = NULLIF($2, '')
		WHERE id = $1 AND resolved_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, deadLetterID, note)
	if err != nil {
		return fmt.Errorf("discard dead-letter job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrDeadLetterNotFound
	}
	return nil
}

func (s *Store) Counts(ctx context.Context) (map[job.Status]int64, error) {
	const q = `SELECT status, count(*) FROM jobs GROUP BY status`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	out := make(map[job.Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[job.Status(status)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j            job.Job
		payload      []byte
		errorMessage *string
		idemKey      *string
	)
	if err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &errorMessage, &idemKey, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.ErrorMessage = errorMessage
	j.IdempotencyKey = idemKey
	return &j, nil
}

func scanJobRows(rows pgx.Rows) (*job.Job, error) {
	return scanJob(rows)
}
