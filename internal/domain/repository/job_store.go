package repository

import (
	"context"
	"time"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
)

// JobStore porta do armazenamento durável da fila de emissão.
//
// ClaimNext deve entregar cada job queued a no máximo um worker por vez
// (na implementação Postgres, SELECT ... FOR UPDATE SKIP LOCKED) e marcar a
// tentativa corrente. Complete e Fail arquivam o job respeitando os limites
// de retenção; Retry devolve o job à fila com o horário do próximo backoff.
type JobStore interface {
	Enqueue(ctx context.Context, job *entity.EmissionJob) error
	ClaimNext(ctx context.Context) (*entity.EmissionJob, error)
	Complete(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string, nextRun time.Time, lastError string) error
	Fail(ctx context.Context, jobID string, lastError string) error
}
