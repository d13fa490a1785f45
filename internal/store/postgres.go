package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altinn/process-engine/internal/command"
	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/retry"
)

// Postgres implements Repository on a pgx connection pool. Commands,
// retry overrides, and actors are stored as self-describing JSONB and
// decoded through the same codec the dispatcher uses.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) SaveJob(ctx context.Context, job *models.Job) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO pe_jobs (id, org, app, instance_owner_party_id, instance_guid, status, mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.ID, job.Instance.Org, job.Instance.App, job.Instance.InstanceOwnerPartyID,
		job.Instance.InstanceGUID, job.Status.String(), string(job.Mode), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}

	for _, task := range job.Tasks {
		commandJSON, err := command.Marshal(task.Command)
		if err != nil {
			return fmt.Errorf("encode command for task %s: %w", task.ID, err)
		}
		actorJSON, err := json.Marshal(task.Actor)
		if err != nil {
			return fmt.Errorf("encode actor for task %s: %w", task.ID, err)
		}
		var retryJSON []byte
		if task.Retry != nil {
			if retryJSON, err = json.Marshal(task.Retry); err != nil {
				return fmt.Errorf("encode retry for task %s: %w", task.ID, err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO pe_tasks (id, job_id, processing_order, command, actor, status, start_time, backoff_until, retry, requeue_count, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, task.ID, job.ID, task.ProcessingOrder, commandJSON, actorJSON, task.Status.String(),
			task.StartTime, task.BackoffUntil, retryJSON, task.RequeueCount, task.LastError,
			task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE pe_jobs SET status = $2, updated_at = NOW() WHERE id = $1
	`, job.ID, job.Status.String())
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) UpdateTask(ctx context.Context, task *models.Task) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE pe_tasks
		SET status = $3, backoff_until = $4, requeue_count = $5, last_error = $6, updated_at = NOW()
		WHERE job_id = $1 AND id = $2
	`, task.JobID, task.ID, task.Status.String(), task.BackoffUntil, task.RequeueCount, task.LastError)
	if err != nil {
		return fmt.Errorf("update task %s/%s: %w", task.JobID, task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s/%s: %w", task.JobID, task.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, org, app, instance_owner_party_id, instance_guid, status, mode, created_at, updated_at
		FROM pe_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan job %s: %w", id, err)
	}
	if err := p.loadTasks(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (p *Postgres) GetJobsForInstance(ctx context.Context, instance models.InstanceInformation) ([]*models.Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, org, app, instance_owner_party_id, instance_guid, status, mode, created_at, updated_at
		FROM pe_jobs
		WHERE instance_guid = $1 AND instance_owner_party_id = $2
		ORDER BY created_at
	`, instance.InstanceGUID, instance.InstanceOwnerPartyID)
	if err != nil {
		return nil, fmt.Errorf("query jobs for instance %s: %w", instance.Key(), err)
	}
	return p.collectJobs(ctx, rows)
}

func (p *Postgres) GetIncompleteJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, org, app, instance_owner_party_id, instance_guid, status, mode, created_at, updated_at
		FROM pe_jobs
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at
	`, models.StatusEnqueued.String(), models.StatusProcessing.String(), models.StatusRequeued.String())
	if err != nil {
		return nil, fmt.Errorf("query incomplete jobs: %w", err)
	}
	return p.collectJobs(ctx, rows)
}

func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM pe_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) collectJobs(ctx context.Context, rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	for _, job := range jobs {
		if err := p.loadTasks(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var status, mode string
	var updated pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.Instance.Org, &job.Instance.App,
		&job.Instance.InstanceOwnerPartyID, &job.Instance.InstanceGUID,
		&status, &mode, &job.CreatedAt, &updated); err != nil {
		return nil, err
	}
	parsed, err := models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	job.Status = parsed
	job.Mode = models.ExecutionMode(mode)
	if updated.Valid {
		t := updated.Time
		job.UpdatedAt = &t
	}
	return &job, nil
}

func (p *Postgres) loadTasks(ctx context.Context, job *models.Job) error {
	rows, err := p.pool.Query(ctx, `
		SELECT id, processing_order, command, actor, status, start_time, backoff_until, retry, requeue_count, last_error, created_at, updated_at
		FROM pe_tasks WHERE job_id = $1
		ORDER BY processing_order
	`, job.ID)
	if err != nil {
		return fmt.Errorf("query tasks for job %s: %w", job.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		task := &models.Task{JobID: job.ID, Instance: job.Instance}
		var commandJSON, actorJSON, retryJSON []byte
		var status string
		var startTime, backoffUntil, updated pgtype.Timestamptz
		if err := rows.Scan(&task.ID, &task.ProcessingOrder, &commandJSON, &actorJSON, &status,
			&startTime, &backoffUntil, &retryJSON, &task.RequeueCount, &task.LastError,
			&task.CreatedAt, &updated); err != nil {
			return fmt.Errorf("scan task row for job %s: %w", job.ID, err)
		}
		if task.Command, err = command.Unmarshal(commandJSON); err != nil {
			return fmt.Errorf("decode command for task %s: %w", task.ID, err)
		}
		if err := json.Unmarshal(actorJSON, &task.Actor); err != nil {
			return fmt.Errorf("decode actor for task %s: %w", task.ID, err)
		}
		if len(retryJSON) > 0 {
			var strategy retry.Strategy
			if err := json.Unmarshal(retryJSON, &strategy); err != nil {
				return fmt.Errorf("decode retry for task %s: %w", task.ID, err)
			}
			task.Retry = &strategy
		}
		parsed, err := models.ParseStatus(status)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		task.Status = parsed
		task.StartTime = timePtr(startTime)
		task.BackoffUntil = timePtr(backoffUntil)
		task.UpdatedAt = timePtr(updated)
		job.Tasks = append(job.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate task rows for job %s: %w", job.ID, err)
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
