package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nextconvert/shorts/internal/shared/database"
)

// Repository persists jobs.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, userID string, limit int) ([]*Job, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, percent int) error
	Complete(ctx context.Context, id, outputPath string) error
	Fail(ctx context.Context, id string, jobErr JobError) error
}

const schema = `
CREATE TABLE IF NOT EXISTS composition_jobs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT,
	operation    TEXT NOT NULL,
	status       TEXT NOT NULL,
	settings     TEXT NOT NULL DEFAULT '',
	inputs       JSONB NOT NULL,
	output_path  TEXT,
	progress     INTEGER NOT NULL DEFAULT 0,
	error        JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS composition_jobs_user_created_idx
	ON composition_jobs (user_id, created_at DESC);
`

const jobColumns = `id, user_id, operation, status, settings, inputs, output_path, progress, error, created_at, started_at, completed_at`

// PostgresRepository stores jobs in the composition_jobs table.
type PostgresRepository struct {
	db *database.Postgres
}

// NewPostgresRepository creates a repository on an open pool.
func NewPostgresRepository(db *database.Postgres) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the jobs table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create jobs schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, job *Job) error {
	inputsJSON, err := json.Marshal(job.Inputs)
	if err != nil {
		return err
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO composition_jobs (id, user_id, operation, status, settings, inputs, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, nullString(job.UserID), job.Operation, job.Status, job.Settings, inputsJSON, job.Progress, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM composition_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (r *PostgresRepository) List(ctx context.Context, userID string, limit int) ([]*Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM composition_jobs
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE composition_jobs
		SET status = $1, progress = 0, error = NULL, started_at = COALESCE(started_at, NOW())
		WHERE id = $2
	`, StatusProcessing, id)
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, id string, percent int) error {
	return r.exec(ctx, `UPDATE composition_jobs SET progress = $1 WHERE id = $2`, percent, id)
}

func (r *PostgresRepository) Complete(ctx context.Context, id, outputPath string) error {
	return r.exec(ctx, `
		UPDATE composition_jobs
		SET status = $1, output_path = $2, progress = 100, error = NULL, completed_at = NOW()
		WHERE id = $3
	`, StatusCompleted, outputPath, id)
}

func (r *PostgresRepository) Fail(ctx context.Context, id string, jobErr JobError) error {
	errorJSON, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE composition_jobs SET status = $1, error = $2, completed_at = NOW() WHERE id = $3
	`, StatusFailed, errorJSON, id)
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var userID, outputPath *string
	var inputsJSON, errorJSON []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(
		&job.ID, &userID, &job.Operation, &job.Status, &job.Settings, &inputsJSON,
		&outputPath, &job.Progress, &errorJSON, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		job.UserID = *userID
	}
	if outputPath != nil {
		job.OutputPath = *outputPath
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	if err := json.Unmarshal(inputsJSON, &job.Inputs); err != nil {
		return nil, fmt.Errorf("corrupt inputs for job %s: %w", job.ID, err)
	}
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &job.Error); err != nil {
			return nil, fmt.Errorf("corrupt error for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
