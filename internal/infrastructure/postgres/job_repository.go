package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
)

var _ repository.JobStore = (*JobRepo)(nil)

// Limites de retenção dos jobs arquivados.
const (
	keepCompleted = 1000
	keepFailed    = 5000
)

// JobRepo fila de emissão durável sobre PostgreSQL.
// O claim usa FOR UPDATE SKIP LOCKED: dois workers nunca levam o mesmo job.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepository constrói a fila sobre o pool.
func NewJobRepository(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Enqueue insere o job em estado queued, elegível imediatamente.
func (r *JobRepo) Enqueue(ctx context.Context, job *entity.EmissionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}
	query := `
		INSERT INTO emission_jobs (id, sale_id, status, attempts, max_attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, 'queued', 0, $3, $4, now(), now())`
	if _, err := r.pool.Exec(ctx, query, job.ID, job.SaleID, job.MaxAttempts, job.ScheduledAt); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	job.Status = entity.JobStatusQueued
	return nil
}

// ClaimNext entrega o job queued mais antigo já elegível, marcando-o active e
// incrementando a tentativa, tudo em uma transação. Devolve nil se não há jobs.
func (r *JobRepo) ClaimNext(ctx context.Context) (*entity.EmissionJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var job entity.EmissionJob
	var lastError *string
	err = tx.QueryRow(ctx, `
		SELECT id, sale_id, status, attempts, max_attempts, scheduled_at, last_error, created_at, updated_at
		FROM emission_jobs
		WHERE status = 'queued' AND scheduled_at <= now()
		ORDER BY scheduled_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
	).Scan(
		&job.ID, &job.SaleID, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.ScheduledAt, &lastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	job.LastError = derefStr(lastError)

	job.Attempts++
	job.Status = entity.JobStatusActive
	if _, err := tx.Exec(ctx, `
		UPDATE emission_jobs
		SET status = 'active', attempts = $2, updated_at = now()
		WHERE id = $1`,
		job.ID, job.Attempts,
	); err != nil {
		return nil, fmt.Errorf("activate job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &job, nil
}

// Complete arquiva o job como completed e recorta o histórico além do limite.
func (r *JobRepo) Complete(ctx context.Context, jobID string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE emission_jobs SET status = 'completed', last_error = NULL, updated_at = now()
		WHERE id = $1`, jobID,
	); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return r.trim(ctx, entity.JobStatusCompleted, keepCompleted)
}

// Retry devolve o job à fila com o horário do próximo backoff.
func (r *JobRepo) Retry(ctx context.Context, jobID string, nextRun time.Time, lastError string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE emission_jobs
		SET status = 'queued', scheduled_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1`,
		jobID, nextRun, lastError,
	); err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

// Fail arquiva o job como permanentemente falhado e recorta o histórico.
func (r *JobRepo) Fail(ctx context.Context, jobID string, lastError string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE emission_jobs SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`,
		jobID, lastError,
	); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return r.trim(ctx, entity.JobStatusFailed, keepFailed)
}

// trim mantém apenas os N registros mais recentes do estado dado.
func (r *JobRepo) trim(ctx context.Context, status string, keep int) error {
	query := `
		DELETE FROM emission_jobs
		WHERE status = $1 AND id NOT IN (
			SELECT id FROM emission_jobs
			WHERE status = $1
			ORDER BY updated_at DESC
			LIMIT $2
		)`
	if _, err := r.pool.Exec(ctx, query, status, keep); err != nil {
		return fmt.Errorf("trim %s jobs: %w", status, err)
	}
	return nil
}
