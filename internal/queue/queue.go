// Package queue implementa a fila de emissão: o produtor (Enqueuer), a
// política de retry/backoff e o worker pool que consome os jobs.
//
// A durabilidade fica no JobStore (PostgreSQL em produção); este pacote só
// carrega a política: 3 tentativas, backoff exponencial 1s/4s/16s e o hook de
// falha permanente quando as tentativas se esgotam.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

const (
	// DefaultMaxAttempts entregas por job antes da falha permanente.
	DefaultMaxAttempts = 3

	backoffBase   = 1000 * time.Millisecond
	backoffFactor = 4
)

// Backoff devolve o atraso antes da próxima entrega depois da tentativa
// attempt (1-based): 1000ms * 4^(attempt-1), ou seja 1s, 4s, 16s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
	}
	return d
}

// Enqueuer API do lado produtor, usada pela camada de requisições HTTP.
type Enqueuer struct {
	store       repository.JobStore
	maxAttempts int
	log         *logger.Logger
}

// NewEnqueuer constrói o produtor. maxAttempts <= 0 usa o default.
func NewEnqueuer(store repository.JobStore, maxAttempts int, log *logger.Logger) *Enqueuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Enqueuer{store: store, maxAttempts: maxAttempts, log: log}
}

// Enqueue submete um job referenciando a venda. A venda já deve estar
// persistida pelo caller. Erros do broker propagam: o caminho de requisição
// que originou a venda precisa observar a falha, nunca engoli-la.
func (e *Enqueuer) Enqueue(ctx context.Context, saleID string) (string, error) {
	job := &entity.EmissionJob{
		SaleID:      saleID,
		MaxAttempts: e.maxAttempts,
	}
	if err := e.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enfileirar emissão da venda %s: %w", saleID, err)
	}
	e.log.Debug().Str("sale_id", saleID).Str("job_id", job.ID).Msg("job de emissão enfileirado")
	return job.ID, nil
}
